package updater

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/forge/forgetest"
	"github.com/gkze/nix-update-engine/internal/sources"
)

func TestDownloadHashUpdaterFetchLatestErrorsWhenNotOverridden(t *testing.T) {
	u := NewDownloadHashUpdater("pkg-a", testComputer(t), nil, nil)
	_, err := u.FetchLatest(context.Background(), forgetest.New())
	var missing *MissingOverrideError
	assert.ErrorAs(t, err, &missing)
}

func TestDownloadHashUpdaterBuildResultAttachesPlatformURLs(t *testing.T) {
	u := NewDownloadHashUpdater("pkg-a", testComputer(t), []string{"x86_64-linux", "aarch64-darwin"},
		func(platform string, info VersionInfo) string {
			return "https://example.com/" + info.Version + "/" + platform + ".tar.gz"
		})

	entry := u.BuildResult(VersionInfo{Version: "1.2.3"}, sources.HashCollection{})

	assert.Equal(t, "https://example.com/1.2.3/x86_64-linux.tar.gz", entry.URLs["x86_64-linux"])
	assert.Equal(t, "https://example.com/1.2.3/aarch64-darwin.tar.gz", entry.URLs["aarch64-darwin"])
}

func TestDownloadHashUpdaterFetchHashesReKeysByPlatform(t *testing.T) {
	writeStubBinary(t, "nix-prefetch-url", `echo rawhash`)
	writeStubBinary(t, "nix", `echo "sha256-DOWNLOADHASHDOWNLOADHASHDOWNLOADHASHDOWNLO="`)
	computer := testComputer(t)

	u := NewDownloadHashUpdater("pkg-a", computer, []string{"x86_64-linux", "aarch64-darwin"},
		func(platform string, info VersionInfo) string {
			return "https://example.com/" + platform + ".tar.gz"
		})

	events := drainAll(u.FetchHashes(context.Background(), forgetest.New(), VersionInfo{Version: "1.0.0"}))

	var hashes sources.HashCollection
	for _, ev := range events {
		require.NotEqual(t, event.KindError, ev.Kind, "unexpected error event: %+v", ev)
		if ev.Kind == event.KindValue {
			hc, ok := ev.Payload.(sources.HashCollection)
			require.True(t, ok)
			hashes = hc
		}
	}

	require.Len(t, hashes.Mapping, 2)
	assert.Equal(t, "sha256-DOWNLOADHASHDOWNLOADHASHDOWNLOADHASHDOWNLO=", hashes.Mapping["x86_64-linux"])
	assert.Equal(t, "sha256-DOWNLOADHASHDOWNLOADHASHDOWNLOADHASHDOWNLO=", hashes.Mapping["aarch64-darwin"])
}
