package updater

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// NewGoVendorHashUpdater builds a flake-input/hash-only updater for a
// Go vendorHash.
func NewGoVendorHashUpdater(name, inputName string, computer *hashcompute.Computer, loadFlake FlakeLockLoader) *FlakeInputHashUpdater {
	return NewFlakeInputHashUpdater(name, inputName, sources.HashTypeVendorHash, loadFlake,
		func(ctx context.Context) (string, error) { return drvFingerprint(ctx, computer, name, "") },
		func(ctx context.Context, _ VersionInfo) <-chan event.Event { return computer.ComputeGoVendorHash(ctx, name) },
	)
}

// NewCargoVendorHashUpdater builds a flake-input/hash-only updater for
// a Cargo vendorHash (cargoHash).
func NewCargoVendorHashUpdater(name, inputName string, computer *hashcompute.Computer, loadFlake FlakeLockLoader) *FlakeInputHashUpdater {
	return NewFlakeInputHashUpdater(name, inputName, sources.HashTypeCargoHash, loadFlake,
		func(ctx context.Context) (string, error) { return drvFingerprint(ctx, computer, name, "") },
		func(ctx context.Context, _ VersionInfo) <-chan event.Event { return computer.ComputeCargoVendorHash(ctx, name) },
	)
}

// NewNpmDepsHashUpdater builds a flake-input/hash-only updater for an
// npmDepsHash.
func NewNpmDepsHashUpdater(name, inputName string, computer *hashcompute.Computer, loadFlake FlakeLockLoader) *FlakeInputHashUpdater {
	return NewFlakeInputHashUpdater(name, inputName, sources.HashTypeNpmDepsHash, loadFlake,
		func(ctx context.Context) (string, error) { return drvFingerprint(ctx, computer, name, "") },
		func(ctx context.Context, _ VersionInfo) <-chan event.Event { return computer.ComputeNpmDepsHash(ctx, name) },
	)
}

func drvFingerprint(ctx context.Context, computer *hashcompute.Computer, name, system string) (string, error) {
	return computer.ComputeDrvFingerprint(ctx, name, system)
}

// BunNodeModulesHashUpdater restricts emission to a single
// platform-tagged entry for the platform it runs on: bun's lockfile
// output is itself platform-dependent, unlike the other flake-input
// hash kinds.
type BunNodeModulesHashUpdater struct {
	FlakeInputHashUpdater
}

// NewBunNodeModulesHashUpdater builds a BunNodeModulesHashUpdater.
func NewBunNodeModulesHashUpdater(name, inputName string, computer *hashcompute.Computer, loadFlake FlakeLockLoader) *BunNodeModulesHashUpdater {
	base := NewFlakeInputHashUpdater(name, inputName, sources.HashTypeNodeModulesHash, loadFlake,
		func(ctx context.Context) (string, error) { return drvFingerprint(ctx, computer, name, hashcompute.CurrentPlatform()) },
		func(ctx context.Context, _ VersionInfo) <-chan event.Event { return computer.ComputeBunNodeModulesHash(ctx, name) },
	)
	return &BunNodeModulesHashUpdater{FlakeInputHashUpdater: *base}
}

// FetchHashes computes the hash for the current platform only and
// tags the resulting single entry with that platform, shadowing
// FlakeInputHashUpdater.FetchHashes's untagged single entry.
func (u *BunNodeModulesHashUpdater) FetchHashes(ctx context.Context, _ forge.Client, info VersionInfo) <-chan event.Event {
	out := make(chan event.Event)
	name := u.Name()

	go func() {
		defer close(out)

		forwarded, getValue := event.CaptureValue(name, u.Compute(ctx, info))
		runID := uuid.New()
		for ev := range forwarded {
			runID = ev.RunID
			out <- ev
			if ev.Kind == event.KindError {
				return
			}
		}
		v, err := getValue()
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}
		hashValue, ok := v.(string)
		if !ok {
			out <- event.Error(runID, name, &UnexpectedValueTypeError{Updater: name, Got: v})
			return
		}
		out <- event.Value(runID, name, sources.HashCollection{
			Entries: []sources.HashEntry{{
				HashType: u.HashType,
				Hash:     hashValue,
				Platform: hashcompute.CurrentPlatform(),
			}},
		})
	}()

	return out
}

// DenoDepsHashUpdater computes a per-platform denoDepsHash via the
// platform-sharded overlay strategy (spec §4.3.5).
type DenoDepsHashUpdater struct {
	FlakeInputHashUpdater
	Computer    *hashcompute.Computer
	SourcesPath string
	NativeOnly  bool
}

// NewDenoDepsHashUpdater builds a DenoDepsHashUpdater. sourcesPath is
// the on-disk sources.json path the platform-sharded strategy reads
// and restores around its own sentinel writes.
func NewDenoDepsHashUpdater(name, inputName, sourcesPath string, nativeOnly bool, computer *hashcompute.Computer, loadFlake FlakeLockLoader) *DenoDepsHashUpdater {
	base := NewFlakeInputHashUpdater(name, inputName, sources.HashTypeDenoDepsHash, loadFlake,
		func(ctx context.Context) (string, error) { return drvFingerprint(ctx, computer, name, "") },
		nil, // Compute is unused; FetchHashes is fully overridden below
	)
	return &DenoDepsHashUpdater{
		FlakeInputHashUpdater: *base,
		Computer:              computer,
		SourcesPath:           sourcesPath,
		NativeOnly:            nativeOnly,
	}
}

// FetchHashes runs the platform-sharded Deno hash computation and
// re-emits its platform map sorted into HashEntry list form, shadowing
// FlakeInputHashUpdater.FetchHashes's single-entry wrapping.
func (u *DenoDepsHashUpdater) FetchHashes(ctx context.Context, _ forge.Client, _ VersionInfo) <-chan event.Event {
	out := make(chan event.Event)
	name := u.Name()

	go func() {
		defer close(out)

		stream := u.Computer.ComputeDenoDepsHash(ctx, name, u.InputName, u.SourcesPath, u.NativeOnly)
		forwarded, getValue := event.CaptureValue(name, stream)
		runID := uuid.New()
		for ev := range forwarded {
			runID = ev.RunID
			out <- ev
			if ev.Kind == event.KindError {
				return
			}
		}
		v, err := getValue()
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}
		platformHashes, ok := v.(map[string]string)
		if !ok {
			out <- event.Error(runID, name, &UnexpectedValueTypeError{Updater: name, Got: v})
			return
		}

		platforms := make([]string, 0, len(platformHashes))
		for p := range platformHashes {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)

		entries := make([]sources.HashEntry, 0, len(platforms))
		for _, p := range platforms {
			entries = append(entries, sources.HashEntry{HashType: u.HashType, Hash: platformHashes[p], Platform: p})
		}
		out <- event.Value(runID, name, sources.HashCollection{Entries: entries})
	}()

	return out
}
