package hashcompute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
)

// ComputeOverlayHash computes a hash by building `pkgs."<source>"` from
// the repository's overlay with FAKE_HASHES=1, so the overlay's own
// sourceHash helpers substitute a sentinel digest for whatever field is
// being solved for; the resulting deliberate mismatch is resolved the
// same way as ComputeFixedOutputHash. system is optional; an empty
// string evaluates for builtins.currentSystem.
func (c *Computer) ComputeOverlayHash(ctx context.Context, source, system string) <-chan event.Event {
	expr := c.buildOverlayExpr(source, system)
	return c.ComputeFixedOutputHash(ctx, source, expr, map[string]string{"FAKE_HASHES": "1"})
}

// ComputeGoVendorHash computes a Go vendor hash via the package
// overlay.
func (c *Computer) ComputeGoVendorHash(ctx context.Context, source string) <-chan event.Event {
	return c.ComputeOverlayHash(ctx, source, "")
}

// ComputeCargoVendorHash computes a Cargo vendor hash via the package
// overlay.
func (c *Computer) ComputeCargoVendorHash(ctx context.Context, source string) <-chan event.Event {
	return c.ComputeOverlayHash(ctx, source, "")
}

// ComputeNpmDepsHash computes an npm deps hash via the package overlay.
func (c *Computer) ComputeNpmDepsHash(ctx context.Context, source string) <-chan event.Event {
	return c.ComputeOverlayHash(ctx, source, "")
}

// ComputeBunNodeModulesHash computes a bun node_modules hash via the
// package overlay, pinned to the current platform (bun's lockfile
// output is platform-dependent).
func (c *Computer) ComputeBunNodeModulesHash(ctx context.Context, source string) <-chan event.Event {
	return c.ComputeOverlayHash(ctx, source, CurrentPlatform())
}

// ComputeDrvFingerprint computes a stable derivation fingerprint for
// staleness detection: the package is evaluated with FAKE_HASHES=1 and
// the `.drv` store-path hash is extracted from `nix derivation show`'s
// JSON output.
//
// Because the fake hash is a constant sentinel, the resulting `.drv`
// path is a pure function of the entire transitive build-input
// closure — source tree, toolchain, build script, stdenv, nixpkgs
// revision. Any change to any of those inputs changes the fingerprint;
// identical inputs always reproduce the same one. This is not acquired
// under the build semaphore: evaluation-only `derivation show` calls
// are cheap relative to an actual build, matching the original's
// omission of the semaphore here.
func (c *Computer) ComputeDrvFingerprint(ctx context.Context, source, system string) (string, error) {
	runID := uuid.New()
	expr := compactNixExpr(c.buildOverlayExpr(source, system))
	args := []string{c.nixBin, "derivation", "show", "--quiet", "--impure", "--expr", expr}

	result, err := runCollected(ctx, runID, source, args, map[string]string{"FAKE_HASHES": "1"}, c.cfg.SubprocessTimeout)
	if err != nil {
		return "", fmt.Errorf("hashcompute: derivation show: %w", err)
	}
	if result.ReturnCode != 0 {
		return "", fmt.Errorf("hashcompute: nix derivation show failed: %s", result.Stderr)
	}

	return extractFingerprint(result.Stdout)
}

// extractFingerprint parses `nix derivation show`'s JSON output and
// returns the leading hash portion of the first `.drv` store path.
// Newer Nix versions (2.20+) wrap derivations under a top-level
// "derivations" key; older versions use the .drv path as a top-level
// key directly. Both shapes are handled by reading only the first key
// at whichever level holds the store paths, which also preserves the
// JSON object's original key order (a decoded Go map would not).
func extractFingerprint(stdout string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(stdout)))
	if _, err := dec.Token(); err != nil {
		return "", fmt.Errorf("hashcompute: parsing derivation show output: %w", err)
	}
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("hashcompute: derivation show output has no entries: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("hashcompute: unexpected derivation show output shape")
	}

	drvPath := key
	if key == "derivations" {
		var nested json.RawMessage
		if err := dec.Decode(&nested); err != nil {
			return "", fmt.Errorf("hashcompute: parsing nested derivations object: %w", err)
		}
		nestedKey, err := firstObjectKey(nested)
		if err != nil {
			return "", err
		}
		drvPath = nestedKey
	}

	if idx := strings.LastIndex(drvPath, "/"); idx >= 0 {
		drvPath = drvPath[idx+1:]
	}
	if idx := strings.Index(drvPath, "-"); idx >= 0 {
		drvPath = drvPath[:idx]
	}
	return drvPath, nil
}

func firstObjectKey(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return "", fmt.Errorf("hashcompute: parsing nested object: %w", err)
	}
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("hashcompute: nested object has no entries: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("hashcompute: unexpected nested object shape")
	}
	return key, nil
}
