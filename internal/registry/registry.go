// Package registry models the process-wide {package name -> Updater}
// map that Python assembles through import-time side effects
// (update.updaters.base.Updater.__init_subclass__ inserting into a
// module-level UPDATERS dict as each updaters/*.py module is imported).
//
// Go has neither import-time side effects nor a class-registration
// hook, so the same map is built explicitly and in two steps:
//
//  1. Register associates a declarative "kind" name (e.g. "go-vendor")
//     with a Factory that knows how to build that kind's Updater from a
//     package directory's typed parameters. Built-in kinds are
//     registered once at startup by RegisterBuiltins.
//  2. Discover walks packages/* and overlays/*, and for every
//     subdirectory containing the marker file updater.yaml, decodes its
//     "kind" field, looks up the matching Factory, and invokes it to
//     build the concrete Updater — replacing the Python "executable
//     module with a class-registration side effect" with a small typed
//     declaration read once and discarded.
//
// Grounded on original_source/update/paths.py's per-package file
// discovery (duplicate-name detection included) and
// original_source/update/updaters/registry.py's one-line factory
// registrations.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/updater"
)

// markerKind is decoded first, from the raw document, just to select a
// Factory; the Factory itself re-decodes the same raw bytes into
// whatever typed params struct its kind needs.
type markerKind struct {
	Kind string `yaml:"kind"`
}

// Factory builds a concrete Updater for a package named pkgName from
// its updater.yaml document's raw bytes (so the factory can decode
// whatever extra fields its kind requires) and the shared dependencies
// every built-in kind closes over.
type Factory func(pkgName string, raw []byte, deps Deps) (updater.Updater, error)

// Deps bundles the dependencies a Factory needs to construct an
// Updater, threaded through from the caller rather than held as
// package-level globals (spec §9 "pass these via an explicit run
// context").
type Deps struct {
	Computer  *hashcompute.Computer
	LoadFlake updater.FlakeLockLoader
}

// packageDirs mirrors original_source/update/paths.py's PACKAGE_DIRS:
// directories scanned for per-package updater declarations.
var packageDirs = []string{"packages", "overlays"}

// markerFileName is the declarative module-equivalent file Discover
// looks for in each package subdirectory.
const markerFileName = "updater.yaml"

// Registry holds the {kind -> Factory} map populated by Register calls
// and the {package name -> Updater} map populated by Discover. Per
// spec §4.5, the package-name map is written only during Discover,
// called once synchronously before Phase 1 starts; the mutex exists
// for defense against a caller that discovers more than once
// concurrently, not because steady-state reads need one.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	updaters  map[string]updater.Updater
	sources   map[string]string // package name -> origin, for duplicate diagnostics
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		updaters:  make(map[string]updater.Updater),
		sources:   make(map[string]string),
	}
}

// Register associates kind with factory. Re-registering an existing
// kind overwrites it; callers register built-ins once at startup and
// never again.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// RegisterUpdater inserts an already-built Updater directly under
// name, bypassing the marker-file/Factory path. This is how updater
// kinds too bespoke to express declaratively (a download-hash updater
// whose URL template is a Go closure, a platform-API updater whose
// endpoint shape is bespoke per vendor) join the same registry the
// filesystem-discovered ones populate, matching how
// original_source/update/updaters/builtin.py's explicit subclasses
// (GoogleChromeUpdater, DataGripUpdater, ...) register themselves the
// same way the one-liner factories in registry.py do: by existing as a
// concrete Updater, not by being more declarative.
func (r *Registry) RegisterUpdater(name string, u updater.Updater) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sources[name]; ok {
		return &DuplicateNameError{Name: name, First: existing, Second: "explicit RegisterUpdater call"}
	}
	r.updaters[name] = u
	r.sources[name] = "explicit RegisterUpdater call"
	return nil
}

// Discover walks packages/* and overlays/* under repoRoot and builds
// an Updater for every subdirectory containing updater.yaml, using the
// Factory registered for that file's "kind". If any package names
// collide across packages/ and overlays/ (mirroring paths.py's
// _package_file_map duplicate detection), it returns one error listing
// every collision before any kind is checked; otherwise it returns one
// error listing every package naming an unregistered kind. A marker
// file without a "kind" field, or a factory that fails, ends the scan
// with that error at once.
func (r *Registry) Discover(repoRoot string, deps Deps) error {
	type found struct {
		pkgName string
		path    string
		kind    string
		raw     []byte
	}

	var markers []found
	var dupErrs []string
	seen := make(map[string]string)

	for _, dir := range packageDirs {
		root := filepath.Join(repoRoot, dir)
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("registry: reading %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			markerPath := filepath.Join(root, entry.Name(), markerFileName)
			raw, err := os.ReadFile(markerPath)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return fmt.Errorf("registry: reading %s: %w", markerPath, err)
			}
			var mk markerKind
			if err := yaml.Unmarshal(raw, &mk); err != nil {
				return fmt.Errorf("registry: parsing %s: %w", markerPath, err)
			}
			if mk.Kind == "" {
				return fmt.Errorf("registry: %s missing required 'kind' field", markerPath)
			}
			pkgName := entry.Name()
			if prior, ok := seen[pkgName]; ok {
				dupErrs = append(dupErrs, fmt.Sprintf("- %s: %s, %s", pkgName, prior, markerPath))
				continue
			}
			seen[pkgName] = markerPath
			markers = append(markers, found{pkgName: pkgName, path: markerPath, kind: mk.Kind, raw: raw})
		}
	}

	if len(dupErrs) > 0 {
		sort.Strings(dupErrs)
		return fmt.Errorf("duplicate per-package %s entries detected:\n%s", markerFileName, joinLines(dupErrs))
	}

	r.mu.RLock()
	factories := make(map[string]Factory, len(r.factories))
	for k, f := range r.factories {
		factories[k] = f
	}
	r.mu.RUnlock()

	var unknownKinds []string
	built := make(map[string]updater.Updater, len(markers))
	for _, m := range markers {
		factory, ok := factories[m.kind]
		if !ok {
			unknownKinds = append(unknownKinds, fmt.Sprintf("- %s: unregistered kind %q", m.path, m.kind))
			continue
		}
		u, err := factory(m.pkgName, m.raw, deps)
		if err != nil {
			return fmt.Errorf("registry: building updater for %q (%s): %w", m.pkgName, m.path, err)
		}
		built[m.pkgName] = u
	}
	if len(unknownKinds) > 0 {
		sort.Strings(unknownKinds)
		return fmt.Errorf("registry: unrecognized updater kinds:\n%s", joinLines(unknownKinds))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, u := range built {
		if existing, ok := r.sources[name]; ok {
			return &DuplicateNameError{Name: name, First: existing, Second: markerFileName}
		}
		r.updaters[name] = u
		r.sources[name] = markerFileName
	}
	return nil
}

// Get returns the Updater registered under name, if any.
func (r *Registry) Get(name string) (updater.Updater, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.updaters[name]
	return u, ok
}

// Names returns every registered package name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.updaters))
	for name := range r.updaters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a defensive copy of the {name -> Updater} map.
func (r *Registry) All() map[string]updater.Updater {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]updater.Updater, len(r.updaters))
	for name, u := range r.updaters {
		out[name] = u
	}
	return out
}

// DuplicateNameError reports the same package name discoverable from
// more than one source (two package directories, or a filesystem
// discovery colliding with an explicit RegisterUpdater call).
type DuplicateNameError struct {
	Name, First, Second string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate updater name %q: registered from both %s and %s", e.Name, e.First, e.Second)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
