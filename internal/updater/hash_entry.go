package updater

import (
	"context"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/flakelock"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// HashEntryUpdater is a kind whose hash output is a single HashEntry
// rather than a platform map, with an optional flake input name
// attached to the built entry.
type HashEntryUpdater struct {
	BaseUpdater
	InputName string
}

// BuildResult attaches InputName to the generated entry alongside the
// fetched hashes.
func (u *HashEntryUpdater) BuildResult(info VersionInfo, hashes sources.HashCollection) sources.SourceEntry {
	return sources.SourceEntry{Version: info.Version, Hashes: hashes, Input: u.InputName}
}

// FlakeInput returns the bound flake input name, satisfying
// FlakeInputBinder for orchestrator code that needs to know whether
// (and which) input to refresh before computing hashes — the Go
// equivalent of the original's getattr(updater, "input_name", None).
func (u HashEntryUpdater) FlakeInput() string { return u.InputName }

// FlakeInputBinder is implemented by every HashEntryUpdater-derived
// kind, including cargo-lock-git-deps (bound to its flake input) and
// github-raw-file (which reports an empty input name, meaning it is
// bound to none). Kinds not derived from HashEntryUpdater
// (checksum-provided, download-hash, platform-api, fixed-output-pair)
// don't satisfy it.
type FlakeInputBinder interface {
	FlakeInput() string
}

// FlakeLockLoader resolves the repository's parsed flake.lock, shared
// with hashcompute.Computer so both read the same cached document.
type FlakeLockLoader func() (flakelock.FlakeLock, error)

// HashComputeFunc computes a single hash for info, terminating with a
// KindValue event carrying the SRI digest string.
type HashComputeFunc func(ctx context.Context, info VersionInfo) <-chan event.Event

// DrvFingerprinter computes a derivation fingerprint for staleness
// comparison, matching hashcompute.Computer.ComputeDrvFingerprint's
// signature without requiring this package to import hashcompute
// directly in the interface (concrete kinds wire the real
// implementation in).
type DrvFingerprinter func(ctx context.Context) (string, error)

// FlakeInputHashUpdater is the base for hash-only sources backed by the
// repository's own flake.lock (Go vendor, Cargo vendor, npm deps, bun
// node_modules, Deno deps): staleness is decided by derivation
// fingerprint rather than version string, because a version string
// alone misses nixpkgs bumps, toolchain changes, and build-script
// edits that change the derivation without changing the tracked
// input's own version.
type FlakeInputHashUpdater struct {
	HashEntryUpdater
	HashType    sources.HashType
	LoadFlake   FlakeLockLoader
	Fingerprint DrvFingerprinter
	Compute     HashComputeFunc

	cachedFingerprint     string
	haveCachedFingerprint bool
}

// NewFlakeInputHashUpdater constructs a FlakeInputHashUpdater. inputName
// defaults to name when empty, matching the original's
// self.input_name = self.input_name or self.name.
func NewFlakeInputHashUpdater(name, inputName string, hashType sources.HashType, loadFlake FlakeLockLoader, fingerprint DrvFingerprinter, compute HashComputeFunc) *FlakeInputHashUpdater {
	if inputName == "" {
		inputName = name
	}
	return &FlakeInputHashUpdater{
		HashEntryUpdater: HashEntryUpdater{BaseUpdater: NewBase(name), InputName: inputName},
		HashType:         hashType,
		LoadFlake:        loadFlake,
		Fingerprint:      fingerprint,
		Compute:          compute,
	}
}

// FetchLatest reads the tracked flake input's own node metadata as the
// "version" (its original ref, else the locked rev) — this is
// informational only; staleness is actually decided
// by IsLatest's fingerprint comparison, not by comparing this string.
func (u *FlakeInputHashUpdater) FetchLatest(_ context.Context, _ forge.Client) (VersionInfo, error) {
	lock, err := u.LoadFlake()
	if err != nil {
		return VersionInfo{}, err
	}
	node, ok := lock.Nodes[u.InputName]
	if !ok {
		return VersionInfo{}, &UnknownFlakeInputError{Input: u.InputName}
	}
	return VersionInfo{Version: flakeInputVersion(node), Metadata: map[string]any{"node": node}}, nil
}

// flakeInputVersion extracts a human-readable version string from a
// flake lock node: the original ref, else the locked rev, else
// "unknown".
func flakeInputVersion(node flakelock.FlakeLockNode) string {
	if node.Original != nil {
		if node.Original.Ref != "" {
			return node.Original.Ref
		}
	}
	if node.Locked != nil && node.Locked.Rev != "" {
		return node.Locked.Rev
	}
	return "unknown"
}

// UnknownFlakeInputError reports a flake input name absent from
// flake.lock.
type UnknownFlakeInputError struct{ Input string }

func (e *UnknownFlakeInputError) Error() string {
	return "flake input '" + e.Input + "' not found in flake.lock"
}

// IsLatest computes the current derivation fingerprint with
// FAKE_HASHES=1 and compares it to the stored DrvHash: only an exact
// match means no build input anywhere in the transitive closure
// changed. Fingerprint computation failure conservatively reports
// staleness so the caller recomputes rather than silently keeping a
// possibly-broken entry.
func (u *FlakeInputHashUpdater) IsLatest(ctx context.Context, current *sources.SourceEntry, _ VersionInfo) bool {
	if current == nil || current.DrvHash == "" {
		return false
	}
	fp, err := u.Fingerprint(ctx)
	if err != nil {
		return false
	}
	u.cachedFingerprint = fp
	u.haveCachedFingerprint = true
	return current.DrvHash == fp
}

// FinalizeResult attaches the derivation fingerprint computed during
// IsLatest (or computes it fresh if IsLatest was never called, e.g. a
// first-time update with no current entry) to the result as DrvHash.
// A fingerprint-computation failure here is non-fatal: the entry is
// stored without one and will unconditionally recompute next run.
func (u *FlakeInputHashUpdater) FinalizeResult(ctx context.Context, result sources.SourceEntry) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()
	name := u.Name()

	go func() {
		defer close(out)
		out <- event.Status(runID, name, "Computing derivation fingerprint...")

		fp := u.cachedFingerprint
		if !u.haveCachedFingerprint {
			computed, err := u.Fingerprint(ctx)
			if err == nil {
				fp = computed
			}
		}
		if fp != "" {
			result.DrvHash = fp
		}
		out <- event.Value(runID, name, result)
	}()

	return out
}

// emitSingleHashEntry drains a hash-computing stream for its SRI string
// value and re-emits it wrapped in a one-element HashCollection.
func emitSingleHashEntry(name string, hashType sources.HashType, stream <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event)

	go func() {
		defer close(out)

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
		hashValue, ok := v.(string)
		if !ok {
			out <- event.Error(runID, name, &UnexpectedValueTypeError{Updater: name, Got: v})
			return
		}
		out <- event.Value(runID, name, sources.HashCollection{
			Entries: []sources.HashEntry{{HashType: hashType, Hash: hashValue}},
		})
	}()

	return out
}

// UnexpectedValueTypeError reports a captured value event whose
// payload did not match the type a drain site required.
type UnexpectedValueTypeError struct {
	Updater string
	Got     any
}

func (e *UnexpectedValueTypeError) Error() string {
	return e.Updater + ": unexpected value payload type"
}

// FetchHashes computes the single hash via Compute and wraps it in a
// HashCollection.
func (u *FlakeInputHashUpdater) FetchHashes(ctx context.Context, _ forge.Client, info VersionInfo) <-chan event.Event {
	return emitSingleHashEntry(u.Name(), u.HashType, u.Compute(ctx, info))
}
