package updater

import (
	"context"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// ChecksumFetcher fetches hex checksums keyed by platform for a given
// upstream version, e.g. by reading a per-platform API endpoint or a
// release's checksum sidecar files.
type ChecksumFetcher func(ctx context.Context, client forge.Client, info VersionInfo) (map[string]string, error)

// ChecksumProvidedUpdater covers sources whose upstream API or release
// metadata hands back a ready-made digest per platform: the strategy
// only needs to convert each one to SRI, never compute a hash itself.
type ChecksumProvidedUpdater struct {
	BaseUpdater
	Computer       *hashcompute.Computer
	FetchChecksums ChecksumFetcher
}

// NewChecksumProvidedUpdater constructs a ChecksumProvidedUpdater.
func NewChecksumProvidedUpdater(name string, computer *hashcompute.Computer, fetch ChecksumFetcher) *ChecksumProvidedUpdater {
	return &ChecksumProvidedUpdater{BaseUpdater: NewBase(name), Computer: computer, FetchChecksums: fetch}
}

// FetchLatest is not meaningfully separable from FetchChecksums for
// most checksum-provided sources (the same API call that returns the
// version also returns the digests), so concrete sources of this kind
// are expected to embed ChecksumProvidedUpdater alongside their own
// FetchLatest, shadowing this default, which always errors.
func (u *ChecksumProvidedUpdater) FetchLatest(_ context.Context, _ forge.Client) (VersionInfo, error) {
	return VersionInfo{}, &MissingOverrideError{Updater: u.Name(), Method: "FetchLatest"}
}

// FetchHashes converts the fetched per-platform hex checksums to SRI
// concurrently and emits a single platform-map HashCollection.
func (u *ChecksumProvidedUpdater) FetchHashes(ctx context.Context, client forge.Client, info VersionInfo) <-chan event.Event {
	out := make(chan event.Event)
	runID := uuid.New()
	name := u.Name()

	go func() {
		defer close(out)

		checksums, err := u.FetchChecksums(ctx, client, info)
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}

		producers := make(map[string]func(context.Context) <-chan event.Event, len(checksums))
		for platform, hex := range checksums {
			hex := hex
			producers[platform] = func(ctx context.Context) <-chan event.Event {
				return u.Computer.ConvertToSRI(ctx, name, hex)
			}
		}

		gathered := event.GatherEventStreams(ctx, name, producers)
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
			mapping := make(map[string]string, len(g.Values))
			for platform, v := range g.Values {
				if s, ok := v.(string); ok {
					mapping[platform] = s
				}
			}
			out <- event.Value(runID, name, sources.HashCollection{Mapping: mapping})
		}
	}()

	return out
}

// MissingOverrideError is returned when a base concrete-kind method
// that requires a subclass override is called directly, standing in
// for Python's NotImplementedError from an abstractmethod.
type MissingOverrideError struct {
	Updater string
	Method  string
}

func (e *MissingOverrideError) Error() string {
	return "updater " + e.Updater + " must override " + e.Method
}
