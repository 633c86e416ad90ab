package updater

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gkze/nix-update-engine/internal/config"
	"github.com/gkze/nix-update-engine/internal/flakelock"
	"github.com/gkze/nix-update-engine/internal/hashcompute"
)

// writeStubBinary writes an executable shell script named binName into
// a fresh temp directory and prepends that directory to PATH for the
// duration of the test, so a Computer's hardcoded "nix"/"nix-prefetch-url"
// lookups resolve to the stub instead of a real Nix installation.
func writeStubBinary(t *testing.T, binName, body string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, binName)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", binName, err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// testComputerWithLock builds a real *hashcompute.Computer backed by
// lock, usable once a "nix" and/or "nix-prefetch-url" stub has been
// placed on PATH via writeStubBinary.
func testComputerWithLock(t *testing.T, lock flakelock.FlakeLock) *hashcompute.Computer {
	t.Helper()
	cfg := config.Default()
	return hashcompute.New(cfg, "/repo", func() (flakelock.FlakeLock, error) { return lock, nil })
}

func testComputer(t *testing.T) *hashcompute.Computer {
	t.Helper()
	return testComputerWithLock(t, flakelock.FlakeLock{})
}

func noopLoadFlake() (flakelock.FlakeLock, error) { return flakelock.FlakeLock{}, nil }
