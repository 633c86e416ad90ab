package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gkze/nix-update-engine/internal/ciresolve"
	"github.com/gkze/nix-update-engine/internal/config"
	"github.com/gkze/nix-update-engine/internal/flakelock"
	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/log"
	"github.com/gkze/nix-update-engine/internal/metrics"
	"github.com/gkze/nix-update-engine/internal/orchestrator"
	"github.com/gkze/nix-update-engine/internal/registry"
	"github.com/gkze/nix-update-engine/internal/updater"
)

func runUpdate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(&config.Config{
		Verbose:    verbose,
		Output:     resolveOutputMode(outputFlag),
		NativeOnly: nativeOnly,
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := log.New(cfg.Verbose, cfg.Output)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := log.WithLogger(cmd.Context(), logger)

	repoRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving repository root: %w", err)
	}

	loadFlake := flakeLoaderFor(repoRoot)

	reg := registry.New()
	registry.RegisterBuiltins(reg)
	computer := hashcompute.New(cfg, repoRoot, loadFlake)
	if err := reg.Discover(repoRoot, registry.Deps{Computer: computer, LoadFlake: loadFlake}); err != nil {
		return fmt.Errorf("discovering sources: %w", err)
	}

	if forgeClientFactory == nil {
		return fmt.Errorf("no forge.Client implementation is wired into this binary (see forgeClientFactory in root.go)")
	}
	client, err := forgeClientFactory(cfg)
	if err != nil {
		return fmt.Errorf("building forge client: %w", err)
	}

	var pinned map[string]updater.VersionInfo
	if pinnedVersions != "" {
		pinned, err = ciresolve.Load(pinnedVersions)
		if err != nil {
			return fmt.Errorf("loading pinned versions: %w", err)
		}
		logger.Infow("loaded pinned versions", "path", pinnedVersions, "count", len(pinned))
	}

	metricsReg := prometheus.NewRegistry()
	metrics.Register(metricsReg)
	metrics.BuildSemaphoreCapacity.Set(float64(cfg.MaxNixBuilds))
	stopMetricsServer := maybeServeMetrics(ctx, metricsReg, logger)
	defer stopMetricsServer()

	opts := orchestrator.Options{
		Source:         sourceFlag,
		NoRefs:         noRefs,
		NoSources:      noSources,
		NoInputRefresh: noInputRefresh,
		DryRun:         dryRun,
		NativeOnly:     nativeOnly,
		Pinned:         pinned,
	}
	deps := orchestrator.Deps{
		Registry:    reg,
		ForgeClient: client,
		RepoRoot:    repoRoot,
		Config:      cfg,
		LoadFlake:   updater.FlakeLockLoader(loadFlake),
	}

	summary, err := orchestrator.Run(ctx, deps, opts)
	if err != nil {
		return fmt.Errorf("running update: %w", err)
	}

	metrics.ObserveSummary(len(summary.Updated()), len(summary.Errors()), len(summary.NoChange()))
	renderSummary(cfg.Output, summary)

	if summary.HadErrors() {
		return fmt.Errorf("%d source(s) failed to update", len(summary.Errors()))
	}
	return nil
}

// flakeLoaderFor returns an updater.FlakeLockLoader that reads and
// parses flake.lock from repoRoot, the one place this binary needs a
// concrete flakelock source instead of the stubs tests use.
func flakeLoaderFor(repoRoot string) func() (flakelock.FlakeLock, error) {
	return func() (flakelock.FlakeLock, error) {
		data, err := os.ReadFile(repoRoot + "/flake.lock")
		if err != nil {
			return flakelock.FlakeLock{}, fmt.Errorf("reading flake.lock: %w", err)
		}
		return flakelock.Parse(data)
	}
}

// renderSummary prints the minimal, non-TUI view of a run's outcome.
// Anything richer (a live tree, progress bars) is the excluded TUI
// layer's job; this is just enough for a CI log or a quiet script.
func renderSummary(output string, summary *orchestrator.Summary) {
	if output == "quiet" {
		return
	}
	for _, name := range summary.Updated() {
		fmt.Printf("updated: %s\n", name)
	}
	for _, name := range summary.NoChange() {
		fmt.Printf("unchanged: %s\n", name)
	}
	for _, name := range summary.Errors() {
		fmt.Printf("error: %s\n", name)
	}
}

// maybeServeMetrics starts a Prometheus HTTP endpoint when
// --metrics-addr is set, mirroring vjache-cie's cmd/cie --metrics-addr
// flag. Returns a no-op stop function when disabled.
func maybeServeMetrics(ctx context.Context, reg *prometheus.Registry, logger *zap.SugaredLogger) func() {
	if metricsAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Infow("metrics server starting", "addr", metricsAddr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warnw("metrics server error", "err", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
