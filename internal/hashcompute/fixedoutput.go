package hashcompute

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/engineerr"
	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/procx"
)

// fixedOutputNoise is the expected-noise set suppressed from line
// events during a deliberate-mismatch build, matching
// lib/update/constants.py's FIXED_OUTPUT_NOISE.
var fixedOutputNoise = []string{
	"error: hash mismatch in fixed-output derivation",
	"specified:",
	"got:",
	"error: Cannot build",
	"Reason:",
}

// ComputeFixedOutputHash runs a `nix build --impure` of expr expecting
// it to fail with a fixed-output hash mismatch, extracts the "got"
// digest from the failure output via procx.ExtractHashMismatch, and
// converts it to SRI if necessary. It yields a KindValue event carrying
// the resulting SRI string.
//
// A build that succeeds is itself an error: the deliberate-mismatch
// protocol requires the fake-hash sentinel in expr to mismatch the real
// output, so success means expr was not wired to the sentinel.
func (c *Computer) ComputeFixedOutputHash(ctx context.Context, source, expr string, env map[string]string) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()

	go func() {
		defer close(out)

		if err := c.acquireBuildSlot(ctx); err != nil {
			out <- event.Error(runID, source, err)
			return
		}
		defer c.releaseBuildSlot()

		args := []string{c.nixBin, "build", "--impure", "--no-link", "--expr", compactNixExpr(expr)}
		stream := procx.Run(ctx, args, procx.Options{
			RunID:            runID,
			Source:           source,
			Timeout:          c.cfg.BuildTimeout,
			Env:              env,
			AllowFailure:     true,
			SuppressPatterns: fixedOutputNoise,
		})

		var result event.CommandResult
		var gotResult bool
		for ev := range stream {
			if ev.Kind == event.KindError {
				out <- ev
				return
			}
			if ev.Kind == event.KindCommandEnd {
				result = ev.Payload.(event.CommandResult)
				gotResult = true
				continue
			}
			out <- ev
		}
		if !gotResult {
			out <- event.Error(runID, source, fmt.Errorf("nix build did not return output"))
			return
		}
		if result.ReturnCode == 0 {
			out <- event.Error(runID, source, fmt.Errorf("expected nix build to fail with hash mismatch, but it succeeded"))
			return
		}

		combined := result.Stderr + result.Stdout
		mismatch, ok := procx.ExtractHashMismatch(combined)
		if !ok {
			out <- event.Error(runID, source, &engineerr.HashExtractionError{Output: combined})
			return
		}

		if mismatch.IsSRI() {
			out <- event.Value(runID, source, mismatch.Got)
			return
		}

		sriStream := c.convertToSRI(ctx, runID, source, mismatch.Got)
		for ev := range sriStream {
			out <- ev
		}
	}()

	return out
}

// ConvertToSRI runs the build tool's hash-conversion subcommand to turn
// a non-SRI digest (algo:hex, bare hex, or Nix-32) into SRI form. It is
// the exported entry point for callers outside this package that
// already hold a raw digest (e.g. a checksum-provided updater
// converting a forge-supplied hex checksum).
func (c *Computer) ConvertToSRI(ctx context.Context, source, hash string) <-chan event.Event {
	return c.convertToSRI(ctx, uuid.New(), source, hash)
}

// convertToSRI runs the build tool's hash-conversion subcommand to turn
// a non-SRI digest (algo:hex, bare hex, or Nix-32) into SRI form.
func (c *Computer) convertToSRI(ctx context.Context, runID uuid.UUID, source, hash string) <-chan event.Event {
	out := make(chan event.Event)

	go func() {
		defer close(out)

		args := []string{c.nixBin, "hash", "convert", "--hash-algo", "sha256", "--to", "sri", hash}
		stream := procx.Run(ctx, args, procx.Options{RunID: runID, Source: source, Timeout: c.cfg.SubprocessTimeout})

		var result event.CommandResult
		var gotResult bool
		for ev := range stream {
			if ev.Kind == event.KindError {
				out <- ev
				return
			}
			if ev.Kind == event.KindCommandEnd {
				result = ev.Payload.(event.CommandResult)
				gotResult = true
				continue
			}
		}
		if !gotResult || result.ReturnCode != 0 {
			out <- event.Error(runID, source, fmt.Errorf("nix hash convert failed: %s", result.Stderr))
			return
		}
		out <- event.Value(runID, source, strings.TrimSpace(result.Stdout))
	}()

	return out
}
