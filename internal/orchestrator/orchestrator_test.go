package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkze/nix-update-engine/internal/config"
	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/flakelock"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/forge/forgetest"
	"github.com/gkze/nix-update-engine/internal/refupdate"
	"github.com/gkze/nix-update-engine/internal/registry"
	"github.com/gkze/nix-update-engine/internal/sources"
	"github.com/gkze/nix-update-engine/internal/updater"
)

// stubUpdater is a minimal updater.Updater whose behavior is entirely
// configured by its fields, standing in for the kinds registry builds
// from updater.yaml.
type stubUpdater struct {
	name        string
	inputName   string // empty means "not flake-input bound"
	latest      updater.VersionInfo
	fetchErr    error
	alreadyDone bool
	result      sources.SourceEntry
}

func (u *stubUpdater) Name() string { return u.name }

func (u *stubUpdater) FetchLatest(context.Context, forge.Client) (updater.VersionInfo, error) {
	return u.latest, u.fetchErr
}

func (u *stubUpdater) FetchHashes(_ context.Context, _ forge.Client, _ updater.VersionInfo) <-chan event.Event {
	out := make(chan event.Event, 1)
	out <- event.Value(uuid.New(), u.name, sources.HashCollection{Mapping: map[string]string{"x86_64-linux": "sha256-abc="}})
	close(out)
	return out
}

func (u *stubUpdater) BuildResult(updater.VersionInfo, sources.HashCollection) sources.SourceEntry {
	return u.result
}

func (u *stubUpdater) IsLatest(context.Context, *sources.SourceEntry, updater.VersionInfo) bool {
	return u.alreadyDone
}

func (u *stubUpdater) FinalizeResult(_ context.Context, result sources.SourceEntry) <-chan event.Event {
	out := make(chan event.Event, 1)
	out <- event.Value(uuid.New(), u.name, result)
	close(out)
	return out
}

func (u *stubUpdater) FlakeInput() string { return u.inputName }

var _ updater.Updater = (*stubUpdater)(nil)
var _ updater.FlakeInputBinder = (*stubUpdater)(nil)

func writePackageDir(t *testing.T, repoRoot, name string, entry *sources.SourceEntry) {
	t.Helper()
	dir := filepath.Join(repoRoot, "packages", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if entry == nil {
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, sources.FileName), append(data, '\n'), 0o644))
}

func testRegistry(t *testing.T, updaters ...*stubUpdater) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, u := range updaters {
		require.NoError(t, r.RegisterUpdater(u.name, u))
	}
	return r
}

func emptyFlakeLoader() (flakelock.FlakeLock, error) {
	return flakelock.FlakeLock{}, nil
}

func TestResolveTargetsFiltersBySourceOption(t *testing.T) {
	allSources := []string{"widget-cli", "widget-docs"}
	allRefs := []refupdate.FlakeInputRef{
		{Name: "widget-cli", Owner: "acme", Repo: "widget-cli", Ref: "v1.0.0", InputType: "github"},
	}

	targets := ResolveTargets(Options{Source: "widget-cli"}, allSources, allRefs)
	assert.Equal(t, []string{"widget-cli"}, targets.SourceNames)
	require.Len(t, targets.RefInputs, 1)
	assert.Equal(t, "widget-cli", targets.RefInputs[0].Name)

	targets = ResolveTargets(Options{Source: "widget-docs"}, allSources, allRefs)
	assert.Equal(t, []string{"widget-docs"}, targets.SourceNames)
	assert.Empty(t, targets.RefInputs)
}

func TestResolveTargetsNativeOnlyImpliesNoRefs(t *testing.T) {
	targets := ResolveTargets(Options{NativeOnly: true}, []string{"widget-cli"}, nil)
	assert.False(t, targets.DoRefs)
	assert.True(t, targets.DoSources)
	assert.True(t, targets.NativeOnly)
}

func TestBuildItemMetaClassifiesAllFourWays(t *testing.T) {
	targets := Targets{
		DoRefs:    true,
		DoSources: true,
		RefInputs: []refupdate.FlakeInputRef{
			{Name: "both-item", Owner: "acme", Repo: "both-item", Ref: "v1.0.0", InputType: "github"},
		},
		SourceNames: []string{
			"both-item", "source-with-input", "plain-source",
		},
	}
	sourcesWithInput := map[string]struct{}{
		"both-item":         {},
		"source-with-input": {},
	}

	items, order := BuildItemMeta(targets, sourcesWithInput)
	require.Len(t, order, 3)

	assert.Equal(t, OriginBoth, items["both-item"].Origin)
	assert.Equal(t, []OperationKind{OpCheckVersion, OpUpdateRef, OpRefreshLock, OpComputeHash}, items["both-item"].OpOrder)

	assert.Equal(t, OriginSourcesOnly, items["source-with-input"].Origin)
	assert.Equal(t, []OperationKind{OpCheckVersion, OpRefreshLock, OpComputeHash}, items["source-with-input"].OpOrder)

	assert.Equal(t, OriginSourcesOnly, items["plain-source"].Origin)
	assert.Equal(t, []OperationKind{OpCheckVersion, OpComputeHash}, items["plain-source"].OpOrder)
}

func TestBuildItemMetaFlakeOnlyItem(t *testing.T) {
	targets := Targets{
		DoRefs: true,
		RefInputs: []refupdate.FlakeInputRef{
			{Name: "flake-only-item", Owner: "acme", Repo: "flake-only-item", Ref: "v1.0.0", InputType: "github"},
		},
	}
	items, order := BuildItemMeta(targets, nil)
	require.Len(t, order, 1)
	assert.Equal(t, OriginFlakeOnly, items["flake-only-item"].Origin)
	assert.Equal(t, []OperationKind{OpCheckVersion, OpUpdateRef, OpRefreshLock}, items["flake-only-item"].OpOrder)
}

func TestRunComputesHashAndPersistsUpdatedSource(t *testing.T) {
	repoRoot := t.TempDir()
	writePackageDir(t, repoRoot, "widget-cli", nil)

	u := &stubUpdater{
		name:   "widget-cli",
		latest: updater.VersionInfo{Version: "1.5.0"},
		result: sources.SourceEntry{Version: "1.5.0"},
	}
	deps := Deps{
		Registry:    testRegistry(t, u),
		ForgeClient: forgetest.New(),
		RepoRoot:    repoRoot,
		Config:      config.Default(),
		LoadFlake:   emptyFlakeLoader,
	}

	summary, err := Run(context.Background(), deps, Options{NoRefs: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"widget-cli"}, summary.Updated())
	assert.Empty(t, summary.Errors())

	saved, err := sources.Load(filepath.Join(repoRoot, "packages", "widget-cli", sources.FileName))
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", saved.Version)
}

func TestRunNoChangeReportsNoChangeStatus(t *testing.T) {
	repoRoot := t.TempDir()
	existing := &sources.SourceEntry{Version: "1.4.0"}
	writePackageDir(t, repoRoot, "widget-cli", existing)

	u := &stubUpdater{
		name:        "widget-cli",
		latest:      updater.VersionInfo{Version: "1.4.0"},
		alreadyDone: true,
	}
	deps := Deps{
		Registry:    testRegistry(t, u),
		ForgeClient: forgetest.New(),
		RepoRoot:    repoRoot,
		Config:      config.Default(),
		LoadFlake:   emptyFlakeLoader,
	}

	summary, err := Run(context.Background(), deps, Options{NoRefs: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"widget-cli"}, summary.NoChange())
	assert.Empty(t, summary.Updated())
}

func TestRunSurfacesFetchLatestErrorAsSummaryError(t *testing.T) {
	repoRoot := t.TempDir()
	writePackageDir(t, repoRoot, "widget-cli", nil)

	u := &stubUpdater{name: "widget-cli", fetchErr: assertErr{}}
	deps := Deps{
		Registry:    testRegistry(t, u),
		ForgeClient: forgetest.New(),
		RepoRoot:    repoRoot,
		Config:      config.Default(),
		LoadFlake:   emptyFlakeLoader,
	}

	summary, err := Run(context.Background(), deps, Options{NoRefs: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"widget-cli"}, summary.Errors())
}

func TestRunDryRunSkipsPersistence(t *testing.T) {
	repoRoot := t.TempDir()
	writePackageDir(t, repoRoot, "widget-cli", nil)

	u := &stubUpdater{
		name:   "widget-cli",
		latest: updater.VersionInfo{Version: "1.5.0"},
		result: sources.SourceEntry{Version: "1.5.0"},
	}
	deps := Deps{
		Registry:    testRegistry(t, u),
		ForgeClient: forgetest.New(),
		RepoRoot:    repoRoot,
		Config:      config.Default(),
		LoadFlake:   emptyFlakeLoader,
	}

	summary, err := Run(context.Background(), deps, Options{NoRefs: true, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"widget-cli"}, summary.Updated())

	saved, err := sources.Load(filepath.Join(repoRoot, "packages", "widget-cli", sources.FileName))
	require.NoError(t, err)
	assert.Empty(t, saved.Version, "dry run must not write sources.json")
}

func TestRunNativeOnlyMergesWithExistingEntryBeforeSaving(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := config.Default()
	existing := &sources.SourceEntry{
		Version: "1.4.0",
		Hashes: sources.HashCollection{
			Mapping: map[string]string{
				"x86_64-linux":  "sha256-oldlinux=",
				"aarch64-darwin": "sha256-olddarwin=",
			},
		},
	}
	writePackageDir(t, repoRoot, "widget-cli", existing)

	u := &stubUpdater{
		name:   "widget-cli",
		latest: updater.VersionInfo{Version: "1.5.0"},
		result: sources.SourceEntry{
			Version: "1.5.0",
			Hashes: sources.HashCollection{
				Mapping: map[string]string{"x86_64-linux": "sha256-newlinux="},
			},
		},
	}
	deps := Deps{
		Registry:    testRegistry(t, u),
		ForgeClient: forgetest.New(),
		RepoRoot:    repoRoot,
		Config:      cfg,
		LoadFlake:   emptyFlakeLoader,
	}

	_, err := Run(context.Background(), deps, Options{NoRefs: true, NativeOnly: true})
	require.NoError(t, err)

	saved, err := sources.Load(filepath.Join(repoRoot, "packages", "widget-cli", sources.FileName))
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", saved.Version)
	assert.Equal(t, "sha256-newlinux=", saved.Hashes.Mapping["x86_64-linux"])
	assert.Equal(t, "sha256-olddarwin=", saved.Hashes.Mapping["aarch64-darwin"], "native-only merge must preserve the other platform's digest")
}

func TestRunRefreshesFlakeInputLockBeforeHashingWhenBound(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	t.Setenv("REFUPDATE_LOG", logPath)

	nixStub := filepath.Join(dir, "nix")
	require.NoError(t, os.WriteFile(nixStub, []byte("#!/bin/sh\necho \"nix $*\" >> \"$REFUPDATE_LOG\"\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	repoRoot := t.TempDir()
	writePackageDir(t, repoRoot, "widget-cli", nil)

	u := &stubUpdater{
		name:      "widget-cli",
		inputName: "widget-cli-src",
		latest:    updater.VersionInfo{Version: "1.5.0"},
		result:    sources.SourceEntry{Version: "1.5.0"},
	}
	deps := Deps{
		Registry:    testRegistry(t, u),
		ForgeClient: forgetest.New(),
		RepoRoot:    repoRoot,
		Config:      config.Default(),
		LoadFlake:   emptyFlakeLoader,
	}

	summary, err := Run(context.Background(), deps, Options{NoRefs: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"widget-cli"}, summary.Updated())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "nix flake lock --update-input widget-cli-src")
}

func TestSummaryStatusPriorityErrorBeatsUpdated(t *testing.T) {
	s := newSummary()
	s.set("widget-cli", StatusNoChange)
	s.set("widget-cli", StatusUpdated)
	s.set("widget-cli", StatusError)
	assert.Equal(t, []string{"widget-cli"}, s.Errors())
	assert.Empty(t, s.Updated())

	s2 := newSummary()
	s2.set("widget-docs", StatusUpdated)
	s2.set("widget-docs", StatusNoChange)
	assert.Equal(t, []string{"widget-docs"}, s2.Updated(), "a later no_change must not downgrade an earlier updated")
}

type assertErr struct{}

func (assertErr) Error() string { return "fetch failed" }
