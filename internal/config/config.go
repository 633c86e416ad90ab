// Package config loads the engine's single configuration value.
//
// Precedence, highest to lowest:
//  1. Command-line flags (applied by the caller, not this package)
//  2. Environment variables (UPDATE_*)
//  3. Project config (.nix-update/config.yaml in cwd)
//  4. Home config (~/.config/nix-update-engine/config.yaml)
//  5. Defaults
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single configuration value threaded through the run
// context (spec §9 "pass these via an explicit run context").
type Config struct {
	// HTTPTimeout bounds a single forge HTTP request.
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout"`

	// SubprocessTimeout bounds a non-build subprocess invocation.
	SubprocessTimeout time.Duration `yaml:"subprocess_timeout" json:"subprocess_timeout"`

	// BuildTimeout bounds a from-source build invocation.
	BuildTimeout time.Duration `yaml:"build_timeout" json:"build_timeout"`

	// LogTailLines is how many trailing combined-stream lines are kept
	// for build-failure diagnostics (§4.1).
	LogTailLines int `yaml:"log_tail_lines" json:"log_tail_lines"`

	// DefaultRetries is the HTTP retry count (owned by the forge layer;
	// carried here because the original config surface documents it).
	DefaultRetries int `yaml:"default_retries" json:"default_retries"`

	// DefaultRetryBackoff is the base HTTP retry backoff.
	DefaultRetryBackoff time.Duration `yaml:"default_retry_backoff" json:"default_retry_backoff"`

	// RetryJitterRatio scales random jitter applied to retry backoff.
	RetryJitterRatio float64 `yaml:"retry_jitter_ratio" json:"retry_jitter_ratio"`

	// UserAgent is sent on forge HTTP requests.
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// FakeHashSentinel is the placeholder digest substituted into
	// fixed-output derivations to provoke a hash-mismatch (§4.3.2).
	// Any digest equal to this value is never persisted.
	FakeHashSentinel string `yaml:"fake_hash_sentinel" json:"fake_hash_sentinel"`

	// MaxNixBuilds bounds concurrent build-tool invocations (§4.3, §5).
	MaxNixBuilds int `yaml:"max_nix_builds" json:"max_nix_builds"`

	// DenoDepsPlatforms is the platform list for the Deno platform-sharded
	// strategy (§4.3.5).
	DenoDepsPlatforms []string `yaml:"deno_deps_platforms" json:"deno_deps_platforms"`

	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Output selects the summary rendering mode: "tty", "json", or "quiet".
	Output string `yaml:"output" json:"output"`

	// NativeOnly restricts platform-sharded computation to the current
	// platform while preserving other platforms' on-disk digests.
	NativeOnly bool `yaml:"native_only" json:"native_only"`
}

const (
	envPrefix = "UPDATE_"

	defaultUserAgent       = "nix-update-engine"
	defaultFakeHashSentinel = "sha256-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	defaultOutput          = "tty"
)

// DefaultMaxNixBuilds implements spec §4.3's "≈70% of CPU cores, min 1"
// rule: max(1, (cores*7+9)/10) — 70% rounded up, grounded on
// original_source/lib/update/config.py's default_max_nix_builds.
func DefaultMaxNixBuilds() int {
	cores := runtime.NumCPU()
	v := (cores*7 + 9) / 10
	if v < 1 {
		return 1
	}
	return v
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		HTTPTimeout:         30 * time.Second,
		SubprocessTimeout:   20 * time.Minute,
		BuildTimeout:        2 * time.Hour,
		LogTailLines:        20,
		DefaultRetries:      3,
		DefaultRetryBackoff: time.Second,
		RetryJitterRatio:    0.2,
		UserAgent:           defaultUserAgent,
		FakeHashSentinel:    defaultFakeHashSentinel,
		MaxNixBuilds:        DefaultMaxNixBuilds(),
		DenoDepsPlatforms:   []string{"x86_64-linux", "aarch64-linux", "x86_64-darwin", "aarch64-darwin"},
		Output:              defaultOutput,
	}
}

// Load loads configuration with proper precedence: flags > env > project
// file > home file > defaults. flagOverrides may be nil.
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeCfg, _ := loadFromPath(homeConfigPath()); homeCfg != nil {
		cfg = merge(cfg, homeCfg)
	}
	if projectCfg, _ := loadFromPath(projectConfigPath()); projectCfg != nil {
		cfg = merge(cfg, projectCfg)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nix-update-engine", "config.yaml")
}

func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".nix-update", "config.yaml")
}

func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) *Config {
	if v := os.Getenv(envPrefix + "HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "SUBPROCESS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SubprocessTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "BUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BuildTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "LOG_TAIL_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogTailLines = n
		}
	}
	if v := os.Getenv(envPrefix + "DEFAULT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultRetries = n
		}
	}
	if v := os.Getenv(envPrefix + "USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv(envPrefix + "FAKE_HASH_SENTINEL"); v != "" {
		cfg.FakeHashSentinel = v
	}
	if v := os.Getenv(envPrefix + "MAX_NIX_BUILDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxNixBuilds = n
		}
	}
	if v := os.Getenv(envPrefix + "DENO_DEPS_PLATFORMS"); v != "" {
		cfg.DenoDepsPlatforms = splitComma(v)
	}
	if v := os.Getenv(envPrefix + "VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv(envPrefix + "OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv(envPrefix + "NATIVE_ONLY"); v == "true" || v == "1" {
		cfg.NativeOnly = true
	}
	return cfg
}

func splitComma(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// merge merges src into dst, with src's non-zero values taking precedence.
func merge(dst, src *Config) *Config {
	if src.HTTPTimeout != 0 {
		dst.HTTPTimeout = src.HTTPTimeout
	}
	if src.SubprocessTimeout != 0 {
		dst.SubprocessTimeout = src.SubprocessTimeout
	}
	if src.BuildTimeout != 0 {
		dst.BuildTimeout = src.BuildTimeout
	}
	if src.LogTailLines != 0 {
		dst.LogTailLines = src.LogTailLines
	}
	if src.DefaultRetries != 0 {
		dst.DefaultRetries = src.DefaultRetries
	}
	if src.DefaultRetryBackoff != 0 {
		dst.DefaultRetryBackoff = src.DefaultRetryBackoff
	}
	if src.RetryJitterRatio != 0 {
		dst.RetryJitterRatio = src.RetryJitterRatio
	}
	if src.UserAgent != "" {
		dst.UserAgent = src.UserAgent
	}
	if src.FakeHashSentinel != "" {
		dst.FakeHashSentinel = src.FakeHashSentinel
	}
	if src.MaxNixBuilds != 0 {
		dst.MaxNixBuilds = src.MaxNixBuilds
	}
	if len(src.DenoDepsPlatforms) > 0 {
		dst.DenoDepsPlatforms = src.DenoDepsPlatforms
	}
	if src.Verbose {
		dst.Verbose = true
	}
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.NativeOnly {
		dst.NativeOnly = true
	}
	return dst
}
