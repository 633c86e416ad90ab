// Package ciresolve implements the narrow CI pinned-versions resolver
// (spec §2.10): run fetch_latest once across every registered updater
// and write a flat {name: VersionInfo} manifest that later CI jobs
// consume via a pinned version, eliminating the race where different
// runners observe different upstream versions for the same package.
//
// This is the one CI helper spec.md §1 keeps in scope, because unlike
// the excluded PR/diff-formatting helpers it exercises the registry
// and updater framework directly rather than formatting output for a
// pipeline. Grounded on
// original_source/lib/update/ci/resolve_versions.py.
package ciresolve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/registry"
	"github.com/gkze/nix-update-engine/internal/updater"
)

// Result is the outcome of one resolve pass: successfully resolved
// versions plus the per-name errors for updaters whose fetch_latest
// failed. A failure here is a warning, never fatal (matching the
// original's "Warning: failed to resolve %s: %s" stderr line) — the
// manifest is written with whatever succeeded.
type Result struct {
	Versions map[string]updater.VersionInfo
	Failed   map[string]error
}

// ResolveAll runs FetchLatest concurrently for every updater currently
// registered in reg, tolerating individual failures.
func ResolveAll(ctx context.Context, reg *registry.Registry, client forge.Client) Result {
	updaters := reg.All()

	result := Result{
		Versions: make(map[string]updater.VersionInfo, len(updaters)),
		Failed:   make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, u := range updaters {
		name, u := name, u
		g.Go(func() error {
			info, err := u.FetchLatest(gctx, client)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[name] = err
				return nil
			}
			result.Versions[name] = info
			return nil
		})
	}
	// Every goroutine above returns nil unconditionally (failures are
	// recorded, not propagated), so g.Wait() always returns nil.
	_ = g.Wait()

	return result
}

// manifestEntry is the on-disk shape of one resolved version, matching
// _serialize_version_info's {"version", "metadata"} object.
type manifestEntry struct {
	Version  string         `json:"version"`
	Metadata map[string]any `json:"metadata"`
}

// Save writes versions to path as a sorted-key, two-space-indented
// JSON object with a trailing newline, matching
// json.dump(..., indent=2, sort_keys=True) plus the original's
// explicit trailing "\n" write.
func Save(path string, versions map[string]updater.VersionInfo) error {
	entries := make(map[string]manifestEntry, len(versions))
	for name, info := range versions {
		metadata := info.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		entries[name] = manifestEntry{Version: info.Version, Metadata: metadata}
	}

	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("ciresolve: encoding %s: %w", path, err)
	}
	payload = append(payload, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ciresolve: creating directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("ciresolve: writing %s: %w", path, err)
	}
	return nil
}

// Load reads a pinned-versions manifest written by Save, matching
// load_pinned_versions.
func Load(path string) (map[string]updater.VersionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ciresolve: reading %s: %w", path, err)
	}

	var entries map[string]manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("ciresolve: parsing %s: %w", path, err)
	}

	versions := make(map[string]updater.VersionInfo, len(entries))
	for name, entry := range entries {
		versions[name] = updater.VersionInfo{Version: entry.Version, Metadata: entry.Metadata}
	}
	return versions, nil
}
