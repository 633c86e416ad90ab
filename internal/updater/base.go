package updater

import (
	"context"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// BaseUpdater supplies the three concrete methods every Updater kind
// gets for free: BuildResult, IsLatest, and FinalizeResult. Concrete
// kinds embed BaseUpdater by value and shadow whichever method their
// strategy specializes.
type BaseUpdater struct {
	name string
}

// NewBase constructs a BaseUpdater bound to name.
func NewBase(name string) BaseUpdater {
	return BaseUpdater{name: name}
}

// Name returns the updater's registry name.
func (b BaseUpdater) Name() string { return b.name }

// BuildResult builds a plain SourceEntry from fetched version and
// hashes, with no URLs or commit attached.
func (b BaseUpdater) BuildResult(info VersionInfo, hashes sources.HashCollection) sources.SourceEntry {
	return sources.SourceEntry{Version: info.Version, Hashes: hashes}
}

// BuildResultWithURLs is a helper concrete kinds call from their own
// BuildResult override when they also attach generated platform URLs
// and/or an upstream commit, mirroring
// Updater._build_result_with_urls.
func (b BaseUpdater) BuildResultWithURLs(info VersionInfo, hashes sources.HashCollection, urls map[string]string, commit string) sources.SourceEntry {
	return sources.SourceEntry{
		Version: info.Version,
		Hashes:  hashes,
		URLs:    urls,
		Commit:  commit,
	}
}

// IsLatest compares version strings and, when both sides carry an
// upstream commit, compares those too (a version string alone can lag
// behind a same-version retag).
func (b BaseUpdater) IsLatest(_ context.Context, current *sources.SourceEntry, info VersionInfo) bool {
	if current == nil {
		return false
	}
	if current.Version != info.Version {
		return false
	}
	upstreamCommit, _ := info.Metadata["commit"].(string)
	if upstreamCommit != "" && current.Commit != "" {
		return current.Commit == upstreamCommit
	}
	return true
}

// FinalizeResult is the no-op default: emit result unchanged as the
// terminal value.
func (b BaseUpdater) FinalizeResult(_ context.Context, result sources.SourceEntry) <-chan event.Event {
	out := make(chan event.Event, 1)
	out <- event.Value(uuid.New(), b.name, result)
	close(out)
	return out
}
