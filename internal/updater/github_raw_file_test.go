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

func TestGitHubRawFileUpdaterFetchLatestResolvesCommitOnDefaultBranch(t *testing.T) {
	client := forgetest.New()
	client.DefaultBranches["acme/widget"] = "main"
	client.LatestCommits["acme/widget/configs/flags.toml/main"] = "deadbeef"

	u := NewGitHubRawFileUpdater("pkg-a", "acme", "widget", "configs/flags.toml", testComputer(t))
	info, err := u.FetchLatest(context.Background(), client)

	require.NoError(t, err)
	assert.Equal(t, "deadbeef", info.Version)
	assert.Equal(t, "deadbeef", info.Metadata["rev"])
	assert.Equal(t, "main", info.Metadata["branch"])
}

func TestGitHubRawFileUpdaterFetchLatestSurfacesDefaultBranchError(t *testing.T) {
	client := forgetest.New()
	u := NewGitHubRawFileUpdater("pkg-a", "acme", "widget", "configs/flags.toml", testComputer(t))

	_, err := u.FetchLatest(context.Background(), client)
	assert.Error(t, err)
}

func TestGitHubRawFileUpdaterFetchHashesHashesRawURL(t *testing.T) {
	writeStubBinary(t, "nix-prefetch-url", `echo rawhash`)
	writeStubBinary(t, "nix", `echo "sha256-RAWFILERAWFILERAWFILERAWFILERAWFILERAWFILE="`)
	computer := testComputer(t)

	u := NewGitHubRawFileUpdater("pkg-a", "acme", "widget", "configs/flags.toml", computer)
	info := VersionInfo{Version: "deadbeef", Metadata: map[string]any{"rev": "deadbeef", "branch": "main"}}

	events := drainAll(u.FetchHashes(context.Background(), forgetest.New(), info))

	var hashes sources.HashCollection
	for _, ev := range events {
		require.NotEqual(t, event.KindError, ev.Kind, "unexpected error event: %+v", ev)
		if ev.Kind == event.KindValue {
			hashes = ev.Payload.(sources.HashCollection)
		}
	}

	require.Len(t, hashes.Entries, 1)
	assert.Equal(t, sources.HashTypeSHA256, hashes.Entries[0].HashType)
	assert.Equal(t, "sha256-RAWFILERAWFILERAWFILERAWFILERAWFILERAWFILE=", hashes.Entries[0].Hash)
	assert.Equal(t, "https://raw.githubusercontent.com/acme/widget/deadbeef/configs/flags.toml", hashes.Entries[0].URL)
}
