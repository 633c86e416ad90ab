package updater

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// DownloadURLBuilder returns the download artifact URL for a given
// platform and fetched version, e.g. "<base>/<platform-suffix>".
type DownloadURLBuilder func(platform string, info VersionInfo) string

// DownloadHashUpdater covers sources that publish downloadable
// platform artifacts but no upstream-supplied digest: hashes are
// computed by prefetching each platform's URL.
type DownloadHashUpdater struct {
	BaseUpdater
	Computer  *hashcompute.Computer
	Platforms []string
	URL       DownloadURLBuilder
}

// NewDownloadHashUpdater constructs a DownloadHashUpdater.
func NewDownloadHashUpdater(name string, computer *hashcompute.Computer, platforms []string, url DownloadURLBuilder) *DownloadHashUpdater {
	return &DownloadHashUpdater{BaseUpdater: NewBase(name), Computer: computer, Platforms: platforms, URL: url}
}

// FetchLatest has no useful default for download-hash sources; concrete
// sources embed DownloadHashUpdater and shadow it.
func (u *DownloadHashUpdater) FetchLatest(_ context.Context, _ forge.Client) (VersionInfo, error) {
	return VersionInfo{}, &MissingOverrideError{Updater: u.Name(), Method: "FetchLatest"}
}

// platformURLs builds the platform-to-download-URL map for info.
func (u *DownloadHashUpdater) platformURLs(info VersionInfo) map[string]string {
	urls := make(map[string]string, len(u.Platforms))
	for _, platform := range u.Platforms {
		urls[platform] = u.URL(platform, info)
	}
	return urls
}

// BuildResult attaches the generated platform URLs to the entry.
func (u *DownloadHashUpdater) BuildResult(info VersionInfo, hashes sources.HashCollection) sources.SourceEntry {
	return u.BuildResultWithURLs(info, hashes, u.platformURLs(info), "")
}

// FetchHashes prefetches every platform's artifact URL and emits a
// platform-map HashCollection built by re-keying the URL-to-hash map
// returned by ComputeURLHashes onto platform tags.
func (u *DownloadHashUpdater) FetchHashes(ctx context.Context, _ forge.Client, info VersionInfo) <-chan event.Event {
	out := make(chan event.Event)

	go func() {
		defer close(out)

		name := u.Name()
		runID := uuid.New()
		urls := u.platformURLs(info)
		urlList := make([]string, 0, len(urls))
		for _, url := range urls {
			urlList = append(urlList, url)
		}

		forwarded, getValue := event.CaptureValue(name, u.Computer.ComputeURLHashes(ctx, name, urlList))
		for ev := range forwarded {
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
		hashesByURL, ok := v.(map[string]string)
		if !ok {
			out <- event.Error(runID, name, fmt.Errorf("%s: unexpected value type %T from ComputeURLHashes", name, v))
			return
		}

		mapping := make(map[string]string, len(u.Platforms))
		for _, platform := range u.Platforms {
			mapping[platform] = hashesByURL[urls[platform]]
		}
		out <- event.Value(runID, name, sources.HashCollection{Mapping: mapping})
	}()

	return out
}
