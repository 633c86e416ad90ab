// Package updater implements the per-source update sequence (spec
// §4.4): an Updater fetches the latest upstream version, decides
// whether the stored entry is already current, computes hashes when it
// is not, and yields a VALUE-terminated event stream describing the
// (possibly unchanged) result.
//
// Go has no ABC with abstract/overridable methods, so the Python
// class hierarchy (Updater -> HashEntryUpdater -> FlakeInputHashUpdater
// -> GoVendorHashUpdater, ...) is translated the way
// tim-coutinho-agentops's internal/ratchet package expresses small
// closed state machines: plain structs with methods, composed by
// embedding. A concrete kind embeds BaseUpdater (or an intermediate
// kind) for the methods it inherits unchanged, and declares its own
// method of the same name to shadow the ones it specializes. UpdateStream
// always calls through the Updater interface so the embedder's
// shadowing method — not BaseUpdater's — is the one that runs.
//
// Grounded on original_source/lib/update/updaters/base.py.
package updater

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// VersionInfo is the latest-upstream-version metadata an updater
// fetches before deciding whether to recompute hashes. Metadata carries
// strategy-specific extras (e.g. an upstream commit SHA, a resolved
// flake.lock node) that IsLatest or FinalizeResult may consult.
type VersionInfo struct {
	Version  string
	Metadata map[string]any
}

// Updater is the contract every concrete update strategy satisfies.
// FetchLatest and FetchHashes have no useful default and must be
// implemented by every concrete kind; BuildResult, IsLatest, and
// FinalizeResult have a default on BaseUpdater that most kinds inherit
// unchanged.
type Updater interface {
	// Name identifies this updater in emitted events and in the
	// registry.
	Name() string

	// FetchLatest fetches upstream version metadata. Not called when a
	// pinned version is supplied to UpdateStream (CI mode).
	FetchLatest(ctx context.Context, client forge.Client) (VersionInfo, error)

	// FetchHashes computes source hashes for info, terminating with a
	// KindValue event whose payload is a sources.HashCollection.
	FetchHashes(ctx context.Context, client forge.Client, info VersionInfo) <-chan event.Event

	// BuildResult constructs the candidate source entry from fetched
	// version info and hashes.
	BuildResult(info VersionInfo, hashes sources.HashCollection) sources.SourceEntry

	// IsLatest reports whether current already reflects info and hash
	// recomputation can be skipped. current is nil when the source has
	// no existing manifest entry.
	IsLatest(ctx context.Context, current *sources.SourceEntry, info VersionInfo) bool

	// FinalizeResult gives the updater a chance to attach metadata to
	// result (e.g. a derivation fingerprint) before the no-op equality
	// check, terminating with a KindValue event carrying the (possibly
	// modified) entry.
	FinalizeResult(ctx context.Context, result sources.SourceEntry) <-chan event.Event
}

// UpdateStream runs the fetch/check/hash/finalize sequence for u and
// emits its lifecycle as an event stream (spec §4.4's update_stream).
// current is the source's existing manifest entry, or nil for a
// first-time update. pinned overrides FetchLatest with a fixed version
// (CI mode, spec §4.8's narrow exception notwithstanding — pinned
// versions here come from whatever caller resolved them, not a CLI
// flag this package parses itself).
func UpdateStream(ctx context.Context, u Updater, client forge.Client, current *sources.SourceEntry, pinned *VersionInfo) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()
	name := u.Name()

	go func() {
		defer close(out)

		var info VersionInfo
		if pinned != nil {
			out <- event.Status(runID, name, fmt.Sprintf("Using pinned version: %s", pinned.Version))
			info = *pinned
		} else {
			out <- event.Status(runID, name, fmt.Sprintf("Fetching latest %s version...", name))
			fetched, err := u.FetchLatest(ctx, client)
			if err != nil {
				out <- event.Error(runID, name, err)
				return
			}
			info = fetched
		}

		out <- event.Status(runID, name, fmt.Sprintf("Latest version: %s", info.Version))
		if u.IsLatest(ctx, current, info) {
			out <- event.Status(runID, name, fmt.Sprintf("Up to date (version: %s)", info.Version))
			out <- event.Result(runID, name, nil)
			return
		}

		out <- event.Status(runID, name, "Fetching hashes for all platforms...")
		hashes, ok, err := drainTyped[sources.HashCollection](out, u.FetchHashes(ctx, client, info), "missing hash output")
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}
		if !ok {
			return // an error event was already forwarded by drainTyped
		}

		result := u.BuildResult(info, hashes)

		finalized, ok, err := drainTyped[sources.SourceEntry](out, u.FinalizeResult(ctx, result), "missing finalized result")
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}
		if !ok {
			return
		}

		if current != nil && finalized.Equal(*current) {
			out <- event.Status(runID, name, "Up to date")
			out <- event.Result(runID, name, nil)
			return
		}
		out <- event.Result(runID, name, finalized)
	}()

	return out
}

// drainTyped forwards every event from stream to out, stopping and
// returning ok=false the moment a KindError event is seen (the error
// itself was already forwarded; the caller should simply return). Once
// stream closes cleanly, it type-asserts the captured value to T.
func drainTyped[T any](out chan<- event.Event, stream <-chan event.Event, missingMsg string) (T, bool, error) {
	var zero T
	forwarded, getValue := event.CaptureValue(missingMsg, stream)
	for ev := range forwarded {
		out <- ev
		if ev.Kind == event.KindError {
			return zero, false, nil
		}
	}
	v, err := getValue()
	if err != nil {
		return zero, false, fmt.Errorf("%s: %w", missingMsg, err)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false, fmt.Errorf("%s: unexpected value type %T", missingMsg, v)
	}
	return typed, true, nil
}
