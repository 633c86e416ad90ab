package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkze/nix-update-engine/internal/flakelock"
	"github.com/gkze/nix-update-engine/internal/log"
	"github.com/gkze/nix-update-engine/internal/orchestrator"
	"github.com/gkze/nix-update-engine/internal/registry"
)

func TestFlakeLoaderForParsesLockFile(t *testing.T) {
	dir := t.TempDir()
	lockJSON := `{
  "version": 7,
  "root": "root",
  "nodes": {
    "root": {"inputs": {"widget-cli-src": "widget-cli-src"}},
    "widget-cli-src": {
      "locked": {"type": "github", "owner": "acme", "repo": "widget-cli", "rev": "deadbeef"},
      "original": {"type": "github", "owner": "acme", "repo": "widget-cli"}
    }
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flake.lock"), []byte(lockJSON), 0o644))

	loader := flakeLoaderFor(dir)
	lock, err := loader()
	require.NoError(t, err)

	names := lock.InputNames()
	assert.Contains(t, names, "widget-cli-src")
}

func TestFlakeLoaderForMissingFileReturnsError(t *testing.T) {
	loader := flakeLoaderFor(t.TempDir())
	_, err := loader()
	assert.Error(t, err)
}

func TestRenderSummarySkipsOutputInQuietMode(t *testing.T) {
	summary := captureSummaryOutput(t, "quiet")
	assert.Empty(t, summary)
}

func TestRenderSummaryOfEmptyRunPrintsNothing(t *testing.T) {
	// orchestrator.Summary has no exported constructor, so this package
	// can only observe it through a real (here: zero-item) Run. The
	// per-bucket grouping is exercised by internal/orchestrator's own
	// Summary tests; renderSummary's formatting of non-empty buckets is
	// not exercised here.
	summary := captureSummaryOutput(t, "json")
	assert.Empty(t, summary)
}

// captureSummaryOutput drives renderSummary through a real, zero-item
// *Summary obtained from orchestrator.Run and captures what it writes
// to stdout.
func captureSummaryOutput(t *testing.T, output string) string {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	origStdout := os.Stdout
	os.Stdout = w

	summary := fakeSummary(t)
	renderSummary(output, summary)

	require.NoError(t, w.Close())
	os.Stdout = origStdout

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestMaybeServeMetricsDisabledIsNoOp(t *testing.T) {
	metricsAddr = ""
	t.Cleanup(func() { metricsAddr = "" })

	logger, err := log.New(false, "json")
	require.NoError(t, err)

	stop := maybeServeMetrics(context.Background(), prometheus.NewRegistry(), logger)
	assert.NotPanics(t, stop)
}

func TestMaybeServeMetricsStartsAndStopsCleanly(t *testing.T) {
	metricsAddr = "127.0.0.1:0"
	t.Cleanup(func() { metricsAddr = "" })

	logger, err := log.New(false, "json")
	require.NoError(t, err)

	stop := maybeServeMetrics(context.Background(), prometheus.NewRegistry(), logger)
	assert.NotPanics(t, stop)
}

// fakeSummary drives a real orchestrator.Run against an empty
// registry and an empty flake.lock, the minimal Deps that yield a
// zero-item (but non-nil) Summary without touching a forge client.
func fakeSummary(t *testing.T) *orchestrator.Summary {
	t.Helper()
	deps := orchestrator.Deps{
		Registry:  registry.New(),
		RepoRoot:  t.TempDir(),
		LoadFlake: func() (flakelock.FlakeLock, error) { return flakelock.FlakeLock{}, nil },
	}
	summary, err := orchestrator.Run(context.Background(), deps, orchestrator.Options{})
	require.NoError(t, err)
	return summary
}
