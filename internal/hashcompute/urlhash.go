package hashcompute

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
)

// ComputeSRIHash prefetches url via the build tool's URL-fetcher and
// converts the resulting digest to SRI, the download-hash strategy's
// single-URL unit of work. It does not acquire the build semaphore:
// prefetching a download artifact is network-bound, not build-bound.
func (c *Computer) ComputeSRIHash(ctx context.Context, source, url string) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()

	go func() {
		defer close(out)

		args := []string{c.nixPrefetchURLBin, "--type", "sha256", url}
		result, err := runCollected(ctx, runID, source, args, nil, c.cfg.SubprocessTimeout)
		if err != nil {
			out <- event.Error(runID, source, fmt.Errorf("hashcompute: prefetching %s: %w", url, err))
			return
		}
		if result.ReturnCode != 0 {
			out <- event.Error(runID, source, fmt.Errorf("hashcompute: nix-prefetch-url failed for %s: %s", url, result.Stderr))
			return
		}
		lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
		raw := strings.TrimSpace(lines[len(lines)-1])

		for ev := range c.convertToSRI(ctx, runID, source, raw) {
			out <- ev
		}
	}()

	return out
}

// ComputeURLHashes runs ComputeSRIHash over every URL in urls
// concurrently and emits a single KindValue event carrying a
// url-to-SRI-hash map, deduplicating repeated URLs first.
func (c *Computer) ComputeURLHashes(ctx context.Context, source string, urls []string) <-chan event.Event {
	out := make(chan event.Event)

	go func() {
		defer close(out)

		unique := make(map[string]struct{}, len(urls))
		var deduped []string
		for _, u := range urls {
			if _, seen := unique[u]; seen {
				continue
			}
			unique[u] = struct{}{}
			deduped = append(deduped, u)
		}

		producers := make(map[string]func(context.Context) <-chan event.Event, len(deduped))
		for _, u := range deduped {
			url := u
			producers[url] = func(ctx context.Context) <-chan event.Event {
				return c.ComputeSRIHash(ctx, source, url)
			}
		}

		gathered := event.GatherEventStreams(ctx, source, producers)
		runID := uuid.New()
		for ev := range gathered {
			if ev.Kind != event.KindValue {
				out <- ev
				continue
			}
			g, ok := ev.Payload.(event.Gathered)
			if !ok {
				out <- ev
				continue
			}
			hashes := make(map[string]string, len(g.Values))
			for url, v := range g.Values {
				hash, _ := v.(string)
				hashes[url] = hash
			}
			out <- event.Value(runID, source, hashes)
		}
	}()

	return out
}
