package hashcompute

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/engineerr"
	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// ComputeDenoDepsHash computes Deno dependency hashes across every
// configured platform (spec §4.3.5). Nix reads the per-package
// sources.json at eval time via a path import, so this writes
// temporary sentinel-bearing hash entries directly to the real
// sourcesPath (under an advisory file lock) before each platform
// build, and always restores the original contents on exit — including
// on panic, since restoration runs in a defer rather than Python's
// finally.
//
// When native_only is true, only the current platform's hash is
// (re)computed; hashes for every other platform are preserved verbatim
// from the on-disk file.
func (c *Computer) ComputeDenoDepsHash(ctx context.Context, source, inputName, sourcesPath string, nativeOnly bool) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()

	go func() {
		defer close(out)

		currentPlatform := CurrentPlatform()
		platforms := c.cfg.DenoDepsPlatforms
		if !contains(platforms, currentPlatform) {
			out <- event.Error(runID, source, fmt.Errorf(
				"current platform %s not in supported platforms: %v", currentPlatform, platforms))
			return
		}

		lockPath := sourcesPath + ".lock"
		fileLock := flock.New(lockPath)
		if err := fileLock.Lock(); err != nil {
			out <- event.Error(runID, source, fmt.Errorf("hashcompute: acquiring lock %s: %w", lockPath, err))
			return
		}
		defer fileLock.Unlock()

		originalEntry, err := sources.Load(sourcesPath)
		if err != nil {
			out <- event.Error(runID, source, &engineerr.FlakeLockError{Node: sourcesPath, Err: err})
			return
		}
		defer func() {
			// Always restore the original file contents so a failed run
			// cannot leave fake placeholders behind.
			_ = sources.Save(sourcesPath, originalEntry)
		}()

		existingHashes := existingPlatformHashes(originalEntry)

		platformsToCompute := platforms
		if nativeOnly {
			platformsToCompute = []string{currentPlatform}
		}

		platformHashes := map[string]string{}
		var failedPlatforms []string

		for _, platformName := range platformsToCompute {
			out <- event.Status(runID, source, fmt.Sprintf("computing hash for %s", platformName))

			tempEntries := buildDenoHashEntries(platforms, platformName, existingHashes, platformHashes, c.cfg.FakeHashSentinel)
			tempEntry := originalEntry
			tempEntry.Input = inputName
			tempEntry.Hashes = sources.HashCollection{Entries: tempEntries}
			if err := sources.Save(sourcesPath, tempEntry); err != nil {
				out <- event.Error(runID, source, err)
				return
			}

			platformSource := fmt.Sprintf("%s:%s", source, platformName)
			for ev := range c.ComputeOverlayHash(ctx, platformSource, platformName) {
				if ev.Kind == event.KindValue {
					if hashVal, ok := ev.Payload.(string); ok {
						platformHashes[platformName] = hashVal
					}
					continue
				}
				if ev.Kind == event.KindError {
					if platformName == currentPlatform {
						out <- ev
						return
					}
					failedPlatforms = append(failedPlatforms, platformName)
					if existing, ok := existingHashes[platformName]; ok {
						out <- event.Status(runID, source, fmt.Sprintf("build failed for %s, preserving existing hash", platformName))
						platformHashes[platformName] = existing
					} else {
						out <- event.Status(runID, source, fmt.Sprintf("build failed for %s, no existing hash to preserve", platformName))
					}
					continue
				}
				out <- ev
			}
		}

		if len(failedPlatforms) > 0 {
			out <- event.Status(runID, source, fmt.Sprintf("warning: %d platform(s) failed, preserved existing hashes: %v", len(failedPlatforms), failedPlatforms))
		}

		final := map[string]string{}
		for k, v := range existingHashes {
			final[k] = v
		}
		for k, v := range platformHashes {
			final[k] = v
		}
		out <- event.Value(runID, source, final)
	}()

	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func existingPlatformHashes(entry sources.SourceEntry) map[string]string {
	existing := map[string]string{}
	if len(entry.Hashes.Entries) > 0 {
		for _, e := range entry.Hashes.Entries {
			if e.Platform != "" {
				existing[e.Platform] = e.Hash
			}
		}
	} else if entry.Hashes.Mapping != nil {
		for k, v := range entry.Hashes.Mapping {
			existing[k] = v
		}
	}
	return existing
}

func buildDenoHashEntries(platforms []string, activePlatform string, existingHashes, computedHashes map[string]string, fakeHash string) []sources.HashEntry {
	entries := make([]sources.HashEntry, 0, len(platforms))
	for _, platformName := range platforms {
		var hashValue string
		if platformName == activePlatform {
			hashValue = fakeHash
		} else if v, ok := computedHashes[platformName]; ok {
			hashValue = v
		} else if v, ok := existingHashes[platformName]; ok {
			hashValue = v
		} else {
			hashValue = fakeHash
		}
		entries = append(entries, sources.HashEntry{
			HashType: sources.HashTypeDenoDepsHash,
			Platform: platformName,
			Hash:     hashValue,
		})
	}
	return entries
}
