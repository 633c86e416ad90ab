package updater

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// PlatformAPIConfig configures a PlatformAPIUpdater: how to build each
// platform's API and download URLs, and which JSON fields in the
// per-platform API response carry the version, checksum, and optional
// upstream commit.
type PlatformAPIConfig struct {
	// Platforms maps a Nix platform tag to the identifier the upstream
	// API uses for that platform (e.g. "x86_64-linux" -> "linux-x64").
	Platforms map[string]string
	APIURL    func(apiPlatform string) string
	// DownloadURL builds the artifact URL for the entry's urls map.
	DownloadURL func(apiPlatform string, info VersionInfo) string
	// VersionKey names the JSON field holding the version string.
	// Defaults to "version".
	VersionKey string
	// ChecksumKey names the JSON field holding the hex checksum.
	ChecksumKey string
	// ExtraEqualityKeys names additional JSON fields that must also
	// agree across every platform (beyond VersionKey), surfaced in
	// VersionInfo.Metadata under the same key.
	ExtraEqualityKeys []string
	// CommitMetadataKey, if set, names a VersionInfo.Metadata key
	// (populated via ExtraEqualityKeys) to attach as the entry's commit.
	CommitMetadataKey string
}

// PlatformAPIUpdater covers sources that expose one API endpoint per
// platform, each returning a version/checksum pair, reconciled by
// requiring every platform to report the identical version (anything
// else indicates a partially-rolled-out release and the update is
// deferred to the next run).
type PlatformAPIUpdater struct {
	ChecksumProvidedUpdater
	cfg PlatformAPIConfig
}

// NewPlatformAPIUpdater builds a PlatformAPIUpdater.
func NewPlatformAPIUpdater(name string, computer *hashcompute.Computer, cfg PlatformAPIConfig) *PlatformAPIUpdater {
	if cfg.VersionKey == "" {
		cfg.VersionKey = "version"
	}
	u := &PlatformAPIUpdater{
		ChecksumProvidedUpdater: *NewChecksumProvidedUpdater(name, computer, nil),
		cfg:                     cfg,
	}
	u.ChecksumProvidedUpdater.FetchChecksums = u.fetchChecksums
	return u
}

// verifyPlatformVersions requires every platform's reported value to
// be identical, returning that common value; a split reading across
// platforms is treated as a hard error rather than picking one
// arbitrarily.
func verifyPlatformVersions(values map[string]string, sourceName string) (string, error) {
	unique := make(map[string]struct{}, 1)
	for _, v := range values {
		unique[v] = struct{}{}
	}
	if len(unique) != 1 {
		return "", fmt.Errorf("%s version mismatch across platforms: %v", sourceName, values)
	}
	for v := range unique {
		return v, nil
	}
	return "", nil
}

// FetchLatest queries every platform's API endpoint concurrently and
// requires agreement on VersionKey (and any ExtraEqualityKeys) before
// returning a single VersionInfo.
func (u *PlatformAPIUpdater) FetchLatest(ctx context.Context, client forge.Client) (VersionInfo, error) {
	type platformResult struct {
		nixPlatform string
		data        map[string]any
	}

	results := make([]platformResult, len(u.cfg.Platforms))
	nixPlatforms := make([]string, 0, len(u.cfg.Platforms))
	apiPlatforms := make([]string, 0, len(u.cfg.Platforms))
	for nixPlat, apiPlat := range u.cfg.Platforms {
		nixPlatforms = append(nixPlatforms, nixPlat)
		apiPlatforms = append(apiPlatforms, apiPlat)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range nixPlatforms {
		i := i
		g.Go(func() error {
			var data map[string]any
			if err := client.FetchJSON(gctx, u.cfg.APIURL(apiPlatforms[i]), &data); err != nil {
				return err
			}
			results[i] = platformResult{nixPlatform: nixPlatforms[i], data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return VersionInfo{}, err
	}

	platformInfo := make(map[string]map[string]any, len(results))
	versions := make(map[string]string, len(results))
	for _, r := range results {
		platformInfo[r.nixPlatform] = r.data
		v, _ := r.data[u.cfg.VersionKey].(string)
		versions[r.nixPlatform] = v
	}
	version, err := verifyPlatformVersions(versions, u.Name())
	if err != nil {
		return VersionInfo{}, err
	}

	metadata := map[string]any{"platform_info": platformInfo}
	for _, key := range u.cfg.ExtraEqualityKeys {
		values := make(map[string]string, len(platformInfo))
		for p, info := range platformInfo {
			s, _ := info[key].(string)
			values[p] = s
		}
		agreed, err := verifyPlatformVersions(values, u.Name()+" "+key)
		if err != nil {
			return VersionInfo{}, err
		}
		metadata[key] = agreed
	}

	return VersionInfo{Version: version, Metadata: metadata}, nil
}

// fetchChecksums extracts the per-platform checksum field from the
// metadata FetchLatest already gathered.
func (u *PlatformAPIUpdater) fetchChecksums(_ context.Context, _ forge.Client, info VersionInfo) (map[string]string, error) {
	if u.cfg.ChecksumKey == "" {
		return nil, &MissingOverrideError{Updater: u.Name(), Method: "PlatformAPIConfig.ChecksumKey"}
	}
	platformInfo, _ := info.Metadata["platform_info"].(map[string]map[string]any)
	checksums := make(map[string]string, len(u.cfg.Platforms))
	for nixPlat := range u.cfg.Platforms {
		data := platformInfo[nixPlat]
		s, _ := data[u.cfg.ChecksumKey].(string)
		checksums[nixPlat] = s
	}
	return checksums, nil
}

// BuildResult attaches per-platform download URLs and, when configured,
// an upstream commit drawn from metadata.
func (u *PlatformAPIUpdater) BuildResult(info VersionInfo, hashes sources.HashCollection) sources.SourceEntry {
	urls := make(map[string]string, len(u.cfg.Platforms))
	for nixPlat, apiPlat := range u.cfg.Platforms {
		urls[nixPlat] = u.cfg.DownloadURL(apiPlat, info)
	}
	var commit string
	if u.cfg.CommitMetadataKey != "" {
		commit, _ = info.Metadata[u.cfg.CommitMetadataKey].(string)
	}
	return u.BuildResultWithURLs(info, hashes, urls, commit)
}
