package hashcompute

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/gkze/nix-update-engine/internal/config"
	"github.com/gkze/nix-update-engine/internal/flakelock"
	"github.com/gkze/nix-update-engine/internal/metrics"
)

// FlakeLockLoader resolves the repository's parsed flake.lock on
// demand. The orchestrator supplies a closure reading from disk;
// Computer calls it at most once and caches its result, error included,
// for the lifetime of one run.
type FlakeLockLoader func() (flakelock.FlakeLock, error)

// Computer holds the shared state needed to run the hash-computation
// strategies: the bounded build semaphore (one process-wide limit
// across every strategy, since each nix build evaluates the full
// overlay and can use 1-2GB of RAM), the build tool binary name, and a
// lazily-loaded flake.lock.
type Computer struct {
	cfg              *config.Config
	sem              *semaphore.Weighted
	nixBin           string
	nixPrefetchURLBin string
	repoRoot         string
	loadFlake        FlakeLockLoader
	flakeOnce        sync.Once
	flakeLock        flakelock.FlakeLock
	flakeLoadErr     error
}

// New builds a Computer bound to cfg's max-nix-builds concurrency
// limit. repoRoot is the absolute path to the flake checkout, used to
// build the `git+file://` overlay expression; loadFlake is called at
// most once per Computer to resolve flake.lock node data for the
// Cargo.lock git-dependency strategy.
func New(cfg *config.Config, repoRoot string, loadFlake FlakeLockLoader) *Computer {
	return &Computer{
		cfg:               cfg,
		sem:               semaphore.NewWeighted(int64(cfg.MaxNixBuilds)),
		nixBin:            "nix",
		nixPrefetchURLBin: "nix-prefetch-url",
		repoRoot:          repoRoot,
		loadFlake:         loadFlake,
	}
}

func (c *Computer) flake() (flakelock.FlakeLock, error) {
	c.flakeOnce.Do(func() {
		c.flakeLock, c.flakeLoadErr = c.loadFlake()
	})
	return c.flakeLock, c.flakeLoadErr
}

// acquireBuildSlot blocks until a build-semaphore slot is free or ctx
// is cancelled.
func (c *Computer) acquireBuildSlot(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.BuildSemaphoreOccupancy.Inc()
	return nil
}

func (c *Computer) releaseBuildSlot() {
	metrics.BuildSemaphoreOccupancy.Dec()
	c.sem.Release(1)
}
