package refupdate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/flakelock"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/forge/forgetest"
)

func writeStubBinary(t *testing.T, binName, body string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, binName)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func drainAll(stream <-chan event.Event) []event.Event {
	var events []event.Event
	for ev := range stream {
		events = append(events, ev)
	}
	return events
}

func lastResultPayload(t *testing.T, events []event.Event) any {
	t.Helper()
	for _, ev := range events {
		if ev.Kind == event.KindResult {
			return ev.Payload
		}
	}
	t.Fatal("no result event observed")
	return nil
}

func TestIsVersionRef(t *testing.T) {
	cases := map[string]bool{
		"main":             false,
		"master":           false,
		"nixos-unstable":   false,
		"nixos-24.05":      false,
		"nixpkgs-unstable": false,
		"cafe1234":         false, // 8-char hex, commit-like
		"v1.2.3":           true,
		"1.2.3":            true,
		"release-2":        true,
		"unstable":         false,
	}
	for ref, want := range cases {
		assert.Equal(t, want, isVersionRef(ref), "ref=%q", ref)
	}
}

func TestExtractVersionPrefix(t *testing.T) {
	assert.Equal(t, "v", extractVersionPrefix("v1.2.3"))
	assert.Equal(t, "", extractVersionPrefix("2024.01.01"))
	assert.Equal(t, "release-", extractVersionPrefix("release-2"))
	assert.Equal(t, "", extractVersionPrefix("nodigitshere"))
}

func TestBuildVersionPrefixes(t *testing.T) {
	assert.Equal(t, []string{"v", ""}, buildVersionPrefixes("v"))
	assert.Equal(t, []string{""}, buildVersionPrefixes(""))
	assert.Equal(t, []string{"version-v", "v"}, buildVersionPrefixes("version-v"))
	assert.Equal(t, []string{"release-"}, buildVersionPrefixes("release-"))
}

func TestTagMatchesPrefix(t *testing.T) {
	assert.True(t, tagMatchesPrefix("v1.2.3", "v"))
	assert.False(t, tagMatchesPrefix("1.2.3", "v"))
	assert.True(t, tagMatchesPrefix("1.2.3", ""))
	assert.False(t, tagMatchesPrefix("abc", ""))
}

func TestSelectTagFromReleasesSkipsDraftsAndPrereleases(t *testing.T) {
	releases := []forge.Release{
		{TagName: "v2.0.0-rc1", Prerelease: true},
		{TagName: "v2.0.0-draft", Draft: true},
		{TagName: "v1.9.0"},
	}
	tag, ok := selectTagFromReleases(releases, "v")
	require.True(t, ok)
	assert.Equal(t, "v1.9.0", tag)
}

func TestDiscoverFlakeInputRefsFiltersNonVersionAndFollowThrough(t *testing.T) {
	lock := flakelock.FlakeLock{
		Root: "root",
		Nodes: map[string]flakelock.FlakeLockNode{
			"root": {
				Inputs: map[string]flakelock.InputRef{
					"nixpkgs":  {Name: "nixpkgs"},
					"some-cli": {Name: "some-cli"},
					"nixvim":   {Path: []string{"nixvim", "nixpkgs"}},
				},
			},
			"nixpkgs": {
				Original: &flakelock.OriginalRef{Type: "github", Owner: "nixos", Repo: "nixpkgs", Ref: "nixos-unstable"},
			},
			"some-cli": {
				Original: &flakelock.OriginalRef{Type: "github", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0"},
			},
		},
	}

	refs := DiscoverFlakeInputRefs(lock)
	require.Len(t, refs, 1)
	assert.Equal(t, FlakeInputRef{Name: "some-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0", InputType: "github"}, refs[0])
}

func TestCheckFlakeRefUpdateFallsBackFromReleasesToTags(t *testing.T) {
	client := forgetest.New().
		WithReleases("acme", "widget-cli", nil).
		WithTags("acme", "widget-cli", []forge.Tag{{Name: "v1.5.0"}, {Name: "v1.4.0"}})

	inputRef := FlakeInputRef{Name: "some-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0", InputType: "github"}
	result, err := CheckFlakeRefUpdate(context.Background(), client, inputRef)
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", result.CurrentRef)
	assert.Equal(t, "v1.5.0", result.LatestRef)
}

func TestCheckFlakeRefUpdateErrorsWhenNoTagFound(t *testing.T) {
	client := forgetest.New()
	inputRef := FlakeInputRef{Name: "some-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0", InputType: "github"}
	_, err := CheckFlakeRefUpdate(context.Background(), client, inputRef)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not determine latest version")
}

func TestUpdateFlakeRefRunsChangeThenLock(t *testing.T) {
	writeStubBinary(t, "flake-edit", `
echo "flake-edit $*" >> "$REFUPDATE_LOG"
exit 0
`)
	writeStubBinary(t, "nix", `
echo "nix $*" >> "$REFUPDATE_LOG"
exit 0
`)
	logPath := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("REFUPDATE_LOG", logPath)

	inputRef := FlakeInputRef{Name: "some-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0", InputType: "github"}
	events := drainAll(UpdateFlakeRef(context.Background(), inputRef, "v1.5.0"))
	for _, ev := range events {
		require.NotEqual(t, event.KindError, ev.Kind, "unexpected error event: %+v", ev)
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, "flake-edit change some-cli github:acme/widget-cli/v1.5.0")
	assert.Contains(t, log, "nix flake lock --update-input some-cli")
}

func TestUpdateFlakeRefStopsAfterChangeFailure(t *testing.T) {
	writeStubBinary(t, "flake-edit", `echo "boom" 1>&2; exit 1`)
	writeStubBinary(t, "nix", `echo "nix should not run" >> "$REFUPDATE_LOG"; exit 0`)
	logPath := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("REFUPDATE_LOG", logPath)

	inputRef := FlakeInputRef{Name: "some-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0", InputType: "github"}
	events := drainAll(UpdateFlakeRef(context.Background(), inputRef, "v1.5.0"))

	var sawError bool
	for _, ev := range events {
		if ev.Kind == event.KindError {
			sawError = true
		}
	}
	assert.True(t, sawError)
	_, statErr := os.Stat(logPath)
	assert.True(t, os.IsNotExist(statErr), "nix flake lock must not run after flake-edit change fails")
}

func TestRefreshFlakeInputLockRunsUpdateInput(t *testing.T) {
	writeStubBinary(t, "nix", `echo "nix $*" >> "$REFUPDATE_LOG"; exit 0`)
	logPath := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("REFUPDATE_LOG", logPath)

	events := drainAll(RefreshFlakeInputLock(context.Background(), "widget-cli-src"))
	for _, ev := range events {
		require.NotEqual(t, event.KindError, ev.Kind, "unexpected error event: %+v", ev)
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "nix flake lock --update-input widget-cli-src")
}

func TestRefreshFlakeInputLockSurfacesCommandFailure(t *testing.T) {
	writeStubBinary(t, "nix", `echo "boom" 1>&2; exit 1`)

	events := drainAll(RefreshFlakeInputLock(context.Background(), "widget-cli-src"))
	var sawError bool
	for _, ev := range events {
		if ev.Kind == event.KindError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRunRefUpdateReportsUpToDate(t *testing.T) {
	client := forgetest.New().WithTags("acme", "widget-cli", []forge.Tag{{Name: "v1.4.0"}})
	inputRef := FlakeInputRef{Name: "some-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0", InputType: "github"}

	events := drainAll(RunRefUpdate(context.Background(), client, inputRef, true))
	for _, ev := range events {
		require.NotEqual(t, event.KindError, ev.Kind)
	}
	assert.Nil(t, lastResultPayload(t, events))
}

func TestRunRefUpdateDryRunSkipsMutation(t *testing.T) {
	writeStubBinary(t, "flake-edit", `echo "should not run" 1>&2; exit 1`)
	client := forgetest.New().WithTags("acme", "widget-cli", []forge.Tag{{Name: "v1.5.0"}, {Name: "v1.4.0"}})
	inputRef := FlakeInputRef{Name: "some-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0", InputType: "github"}

	events := drainAll(RunRefUpdate(context.Background(), client, inputRef, true))
	for _, ev := range events {
		require.NotEqual(t, event.KindError, ev.Kind)
	}
	payload, ok := lastResultPayload(t, events).(RefUpdatePayload)
	require.True(t, ok)
	assert.Equal(t, RefUpdatePayload{Current: "v1.4.0", Latest: "v1.5.0"}, payload)
}

func TestRunRefUpdatePerformsMutationWhenNotDryRun(t *testing.T) {
	writeStubBinary(t, "flake-edit", `echo "flake-edit $*" >> "$REFUPDATE_LOG"; exit 0`)
	writeStubBinary(t, "nix", `echo "nix $*" >> "$REFUPDATE_LOG"; exit 0`)
	logPath := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("REFUPDATE_LOG", logPath)

	client := forgetest.New().WithTags("acme", "widget-cli", []forge.Tag{{Name: "v1.5.0"}, {Name: "v1.4.0"}})
	inputRef := FlakeInputRef{Name: "some-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.4.0", InputType: "github"}

	events := drainAll(RunRefUpdate(context.Background(), client, inputRef, false))
	for _, ev := range events {
		require.NotEqual(t, event.KindError, ev.Kind)
	}
	payload, ok := lastResultPayload(t, events).(RefUpdatePayload)
	require.True(t, ok)
	assert.Equal(t, "v1.5.0", payload.Latest)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "flake-edit change some-cli github:acme/widget-cli/v1.5.0")
}
