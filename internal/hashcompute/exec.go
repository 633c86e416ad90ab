package hashcompute

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/procx"
)

// runCollected runs argv to completion and returns its CommandResult,
// discarding intermediate line/status events. Used by strategies that
// need a single synchronous result rather than a caller-visible stream
// (derivation fingerprinting, git-hash prefetch).
func runCollected(ctx context.Context, runID uuid.UUID, source string, argv []string, env map[string]string, timeout time.Duration) (event.CommandResult, error) {
	stream := procx.Run(ctx, argv, procx.Options{RunID: runID, Source: source, Timeout: timeout, Env: env})

	var result event.CommandResult
	var gotResult bool
	for ev := range stream {
		switch ev.Kind {
		case event.KindError:
			if err, ok := ev.Payload.(error); ok {
				return event.CommandResult{}, err
			}
			return event.CommandResult{}, fmt.Errorf("%s", ev.Message)
		case event.KindCommandEnd:
			result = ev.Payload.(event.CommandResult)
			gotResult = true
		}
	}
	if !gotResult {
		return event.CommandResult{}, fmt.Errorf("command did not return output: %v", argv)
	}
	return result, nil
}
