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

// CargoLockGitDepsUpdater resolves importCargoLock git-dependency
// output hashes (spec §4.3.6) by reading the upstream Cargo.lock at
// the repo's locked flake-input commit and prefetching each named git
// dependency's narHash directly.
type CargoLockGitDepsUpdater struct {
	FlakeInputHashUpdater
	LockfilePath string
	Deps         []hashcompute.CargoLockGitDep
	Computer     *hashcompute.Computer
}

// NewCargoLockGitDepsUpdater builds a CargoLockGitDepsUpdater.
func NewCargoLockGitDepsUpdater(
	name, inputName, lockfilePath string,
	deps []hashcompute.CargoLockGitDep,
	computer *hashcompute.Computer,
	loadFlake FlakeLockLoader,
) *CargoLockGitDepsUpdater {
	base := NewFlakeInputHashUpdater(name, inputName, sources.HashTypeGitDep, loadFlake,
		func(ctx context.Context) (string, error) { return drvFingerprint(ctx, computer, name, "") },
		nil,
	)
	return &CargoLockGitDepsUpdater{
		FlakeInputHashUpdater: *base,
		LockfilePath:          lockfilePath,
		Deps:                  deps,
		Computer:              computer,
	}
}

// FetchHashes fetches and parses the upstream Cargo.lock for git
// sources, prefetches each dependency's narHash concurrently, and
// emits the result sorted into a stable HashEntry list.
func (u *CargoLockGitDepsUpdater) FetchHashes(ctx context.Context, client forge.Client, _ VersionInfo) <-chan event.Event {
	out := make(chan event.Event)
	name := u.Name()

	go func() {
		defer close(out)
		runID := uuid.New()

		stream := u.Computer.ComputeImportCargoLockOutputHashes(ctx, name, u.InputName, u.LockfilePath, u.Deps, client)
		hashesByDep, ok, err := drainTyped[map[string]string](out, stream, "missing cargo-lock git-dependency hashes")
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}
		if !ok {
			return
		}

		depNames := make([]string, 0, len(hashesByDep))
		for dep := range hashesByDep {
			depNames = append(depNames, dep)
		}
		sort.Strings(depNames)

		entries := make([]sources.HashEntry, 0, len(depNames))
		for _, dep := range depNames {
			entries = append(entries, sources.HashEntry{HashType: u.HashType, Hash: hashesByDep[dep], GitDep: dep})
		}
		out <- event.Value(runID, name, sources.HashCollection{Entries: entries})
	}()

	return out
}
