// Command nixupdate is the thin cobra entrypoint around the update
// engine (spec §1: "a thin cmd/nixupdate entrypoint exists only to
// assemble that options value via cobra and hand it to the engine —
// it is not itself part of the specified behavior"). It owns no
// update logic of its own: every flag here except --metrics-addr maps
// directly onto an internal/config.Config field or an
// internal/orchestrator.Options field (--metrics-addr only configures
// the optional metrics endpoint), and the actual work happens in
// internal/orchestrator.Run.
//
// Grounded on tim-coutinho-agentops/cli/cmd/ao/root.go's persistent
// flag shape (global dry-run/verbose/output/config flags threaded
// into every subcommand via PersistentFlags).
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/gkze/nix-update-engine/internal/config"
	"github.com/gkze/nix-update-engine/internal/forge"
)

var (
	dryRun         bool
	verbose        bool
	outputFlag     string
	sourceFlag     string
	noRefs         bool
	noSources      bool
	noInputRefresh bool
	nativeOnly     bool
	pinnedVersions string
	metricsAddr    string
)

// forgeClientFactory builds the forge.Client this run talks to.
// No implementation ships with this module (spec §1's "network fetch
// layer... no HTTP client implementation ships") — an operator binary
// that vendors this package sets it at init time before calling
// Execute. Left nil, the update command fails fast with a clear error
// instead of silently doing nothing.
var forgeClientFactory func(cfg *config.Config) (forge.Client, error)

var rootCmd = &cobra.Command{
	Use:   "nixupdate",
	Short: "Reproducible-build update engine for a Nix flake monorepo",
	Long: `nixupdate keeps per-package source metadata - upstream versions,
content-addressed hashes, and locked flake revisions - synchronized
with the outside world.

This binary is a thin wrapper: it parses flags into a typed options
value and hands it to the engine in internal/orchestrator. It does not
render a TUI; consumers of "--output json" or "--output quiet" should
pipe into their own renderer.`,
	SilenceUsage: true,
	RunE:         runUpdate,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Compute what would change without writing or mutating anything")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "", "Output mode: tty, json, or quiet (default: detected from stdout)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	rootCmd.Flags().StringVar(&sourceFlag, "source", "", "Restrict the run to a single named source")
	rootCmd.Flags().BoolVar(&noRefs, "no-refs", false, "Skip the flake-input ref-update phase")
	rootCmd.Flags().BoolVar(&noSources, "no-sources", false, "Skip the per-source hash-computation phase")
	rootCmd.Flags().BoolVar(&noInputRefresh, "no-input-refresh", false, "Skip refreshing flake.lock inputs ahead of hash computation")
	rootCmd.Flags().BoolVar(&nativeOnly, "native-only", false, "Restrict platform-sharded hash computation to the current platform")
	rootCmd.Flags().StringVar(&pinnedVersions, "pinned-versions", "", "Path to a ciresolve manifest of pinned versions (CI mode)")
}

// Execute runs the root command, exiting the process with status 1 on
// failure the way tim-coutinho-agentops's Execute does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveOutputMode applies the same "detect unless told" rule the
// excluded TUI layer would otherwise own: an explicit --output flag
// always wins; absent that, a non-terminal stdout (pipe, CI log
// capture) defaults to "json" so downstream tooling gets a stable
// stream, and an interactive terminal defaults to "tty".
func resolveOutputMode(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return "tty"
	}
	return "json"
}
