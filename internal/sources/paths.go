package sources

import (
	"fmt"
	"os"
	"path/filepath"
)

// PackageDirs are the top-level directories scanned for package/overlay
// manifests, grounded on original_source/lib/update/paths.py's
// PACKAGE_DIRS.
var PackageDirs = [...]string{"packages", "overlays"}

// PackageFileMap walks repoRoot's PackageDirs and returns a map from
// package name to its sources.json path. A package name appearing under
// more than one directory is a hard error, matching
// original_source/lib/update/paths.py's duplicate-name detection.
func PackageFileMap(repoRoot string) (map[string]string, error) {
	out := make(map[string]string)
	for _, dir := range PackageDirs {
		base := filepath.Join(repoRoot, dir)
		entries, err := os.ReadDir(base)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", base, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if existing, dup := out[name]; dup {
				return nil, fmt.Errorf("duplicate package name %q: found under both %s and a second location", name, existing)
			}
			out[name] = filepath.Join(base, name, FileName)
		}
	}
	return out, nil
}

// SourcesFileFor returns the sources.json path for a package name,
// searching PackageDirs in order. Returns an error if no directory for
// name exists under either PackageDirs entry.
func SourcesFileFor(repoRoot, name string) (string, error) {
	for _, dir := range PackageDirs {
		candidate := filepath.Join(repoRoot, dir, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return filepath.Join(candidate, FileName), nil
		}
	}
	return "", fmt.Errorf("no package directory found for %q under %v", name, PackageDirs)
}
