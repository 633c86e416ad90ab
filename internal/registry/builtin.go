package registry

import (
	"gopkg.in/yaml.v3"

	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/updater"
)

// Built-in kind names, read from each package's updater.yaml "kind"
// field. Only strategies whose construction needs nothing beyond plain
// data (an optional flake input name, a sources.json path, a GitHub
// owner/repo/path triple) are expressible this way — mirroring which
// original_source updater kinds update/updaters/registry.py registers
// through its one-line factory forms (go_vendor_updater,
// cargo_vendor_updater, npm_deps_updater, bun_node_modules_updater,
// deno_deps_updater) versus which ones update/updaters/builtin.py
// defines as full subclasses instead (anything needing a bespoke URL
// template or API response shape: download-hash, checksum-provided,
// platform-api, fixed-output-pair). The latter group is wired via
// RegisterUpdater at startup, not through Discover.
const (
	KindGoVendor        = "go-vendor"
	KindCargoVendor     = "cargo-vendor"
	KindNpmDeps         = "npm-deps"
	KindBunNodeModules  = "bun-node-modules"
	KindDenoDeps        = "deno-deps"
	KindGitHubRawFile   = "github-raw-file"
	KindCargoLockGitDep = "cargo-lock-git-deps"
)

type flakeInputParams struct {
	InputName string `yaml:"input_name"`
}

type denoDepsParams struct {
	InputName   string `yaml:"input_name"`
	SourcesPath string `yaml:"sources_path"`
	NativeOnly  bool   `yaml:"native_only"`
}

type githubRawFileParams struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Path  string `yaml:"path"`
}

type cargoLockGitDepsParams struct {
	InputName    string `yaml:"input_name"`
	LockfilePath string `yaml:"lockfile_path"`
	Deps         []struct {
		GitDep    string `yaml:"git_dep"`
		MatchName string `yaml:"match_name"`
	} `yaml:"deps"`
}

// RegisterBuiltins registers every declarative (marker-file-driven)
// kind on r.
func RegisterBuiltins(r *Registry) {
	r.Register(KindGoVendor, func(pkgName string, raw []byte, deps Deps) (updater.Updater, error) {
		var p flakeInputParams
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return updater.NewGoVendorHashUpdater(pkgName, p.InputName, deps.Computer, deps.LoadFlake), nil
	})

	r.Register(KindCargoVendor, func(pkgName string, raw []byte, deps Deps) (updater.Updater, error) {
		var p flakeInputParams
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return updater.NewCargoVendorHashUpdater(pkgName, p.InputName, deps.Computer, deps.LoadFlake), nil
	})

	r.Register(KindNpmDeps, func(pkgName string, raw []byte, deps Deps) (updater.Updater, error) {
		var p flakeInputParams
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return updater.NewNpmDepsHashUpdater(pkgName, p.InputName, deps.Computer, deps.LoadFlake), nil
	})

	r.Register(KindBunNodeModules, func(pkgName string, raw []byte, deps Deps) (updater.Updater, error) {
		var p flakeInputParams
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return updater.NewBunNodeModulesHashUpdater(pkgName, p.InputName, deps.Computer, deps.LoadFlake), nil
	})

	r.Register(KindDenoDeps, func(pkgName string, raw []byte, deps Deps) (updater.Updater, error) {
		var p denoDepsParams
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.SourcesPath == "" {
			return nil, &MissingParamError{Kind: KindDenoDeps, Field: "sources_path"}
		}
		return updater.NewDenoDepsHashUpdater(pkgName, p.InputName, p.SourcesPath, p.NativeOnly, deps.Computer, deps.LoadFlake), nil
	})

	r.Register(KindGitHubRawFile, func(pkgName string, raw []byte, deps Deps) (updater.Updater, error) {
		var p githubRawFileParams
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Owner == "" || p.Repo == "" || p.Path == "" {
			return nil, &MissingParamError{Kind: KindGitHubRawFile, Field: "owner/repo/path"}
		}
		return updater.NewGitHubRawFileUpdater(pkgName, p.Owner, p.Repo, p.Path, deps.Computer), nil
	})

	r.Register(KindCargoLockGitDep, func(pkgName string, raw []byte, deps Deps) (updater.Updater, error) {
		var p cargoLockGitDepsParams
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.LockfilePath == "" {
			return nil, &MissingParamError{Kind: KindCargoLockGitDep, Field: "lockfile_path"}
		}
		gitDeps := make([]hashcompute.CargoLockGitDep, 0, len(p.Deps))
		for _, d := range p.Deps {
			gitDeps = append(gitDeps, hashcompute.CargoLockGitDep{GitDep: d.GitDep, MatchName: d.MatchName})
		}
		return updater.NewCargoLockGitDepsUpdater(pkgName, p.InputName, p.LockfilePath, gitDeps, deps.Computer, deps.LoadFlake), nil
	})
}

// MissingParamError reports a marker file missing a field its kind
// requires.
type MissingParamError struct {
	Kind, Field string
}

func (e *MissingParamError) Error() string {
	return "updater.yaml: kind " + e.Kind + " requires field " + e.Field
}
