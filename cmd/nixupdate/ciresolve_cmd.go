package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gkze/nix-update-engine/internal/ciresolve"
	"github.com/gkze/nix-update-engine/internal/config"
	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/log"
	"github.com/gkze/nix-update-engine/internal/registry"
)

var ciResolveOutputPath string

var ciResolveCmd = &cobra.Command{
	Use:   "resolve-ci-versions",
	Short: "Resolve every registered updater's latest version into a pinned-versions manifest",
	Long: `Fans fetch_latest out across every registered updater and writes the
successes to a flat {name: VersionInfo} JSON manifest. A failed
updater is logged as a warning and excluded from the manifest, never
aborting the run - this is the one CI helper this engine implements
directly.`,
	RunE: runCIResolve,
}

func init() {
	ciResolveCmd.Flags().StringVarP(&ciResolveOutputPath, "output-file", "f", "pinned-versions.json", "Path to write the resolved manifest")
	rootCmd.AddCommand(ciResolveCmd)
}

func runCIResolve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(&config.Config{Verbose: verbose})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := log.New(cfg.Verbose, resolveOutputMode(outputFlag))
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

	result := ciresolve.ResolveAll(ctx, reg, client)
	for name, err := range result.Failed {
		logger.Warnw("failed to resolve version, excluding from manifest", "source", name, "err", err)
	}

	if err := ciresolve.Save(ciResolveOutputPath, result.Versions); err != nil {
		return fmt.Errorf("writing pinned-versions manifest: %w", err)
	}
	logger.Infow("wrote pinned-versions manifest", "path", ciResolveOutputPath, "resolved", len(result.Versions), "failed", len(result.Failed))
	return nil
}
