package updater

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/forge"
	"github.com/gkze/nix-update-engine/internal/hashcompute"
	"github.com/gkze/nix-update-engine/internal/sources"
)

// ExprBuilder builds the first fixed-output expression (the source
// fetch) for a given upstream version.
type ExprBuilder func(version string) string

// PairedExprBuilder builds the second fixed-output expression (e.g. a
// vendor/cargo fetch) which itself embeds the first expression's
// resolved hash.
type PairedExprBuilder func(version, firstHash string) string

// FixedOutputPairUpdater covers sources whose vendor/dependency hash
// expression can only be evaluated once the source hash is already
// known (the sentry-cli pattern): fetch the latest release tag, then
// run two sequential fixed-output builds where the second embeds the
// first's resolved digest.
type FixedOutputPairUpdater struct {
	BaseUpdater
	Owner, Repo                   string
	Computer                      *hashcompute.Computer
	FirstHashType, SecondHashType sources.HashType
	FirstExpr                     ExprBuilder
	SecondExpr                    PairedExprBuilder
}

// NewFixedOutputPairUpdater builds a FixedOutputPairUpdater.
func NewFixedOutputPairUpdater(
	name, owner, repo string,
	computer *hashcompute.Computer,
	firstType, secondType sources.HashType,
	firstExpr ExprBuilder,
	secondExpr PairedExprBuilder,
) *FixedOutputPairUpdater {
	return &FixedOutputPairUpdater{
		BaseUpdater:    NewBase(name),
		Owner:          owner,
		Repo:           repo,
		Computer:       computer,
		FirstHashType:  firstType,
		SecondHashType: secondType,
		FirstExpr:      firstExpr,
		SecondExpr:     secondExpr,
	}
}

// FetchLatest picks the first non-draft, non-prerelease entry from
// Releases, which must be reverse-chronological (the same ordering
// invariant forge.Client documents for Tags) to behave like the
// forge's own "latest release" endpoint.
func (u *FixedOutputPairUpdater) FetchLatest(ctx context.Context, client forge.Client) (VersionInfo, error) {
	releases, err := client.Releases(ctx, u.Owner, u.Repo)
	if err != nil {
		return VersionInfo{}, err
	}
	for _, r := range releases {
		if r.Draft || r.Prerelease {
			continue
		}
		return VersionInfo{Version: r.TagName, Metadata: map[string]any{}}, nil
	}
	return VersionInfo{}, fmt.Errorf("%s: no published release found for %s/%s", u.Name(), u.Owner, u.Repo)
}

// FetchHashes runs the first fixed-output build, then the second using
// the first's resolved hash, and emits both as a two-entry
// HashCollection.
func (u *FixedOutputPairUpdater) FetchHashes(ctx context.Context, _ forge.Client, info VersionInfo) <-chan event.Event {
	out := make(chan event.Event)
	name := u.Name()

	go func() {
		defer close(out)
		runID := uuid.New()

		firstHash, ok, err := drainTyped[string](out, u.Computer.ComputeFixedOutputHash(ctx, name, u.FirstExpr(info.Version), nil), "missing "+string(u.FirstHashType)+" output")
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}
		if !ok {
			return
		}

		secondExpr := u.SecondExpr(info.Version, firstHash)
		secondHash, ok, err := drainTyped[string](out, u.Computer.ComputeFixedOutputHash(ctx, name, secondExpr, nil), "missing "+string(u.SecondHashType)+" output")
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}
		if !ok {
			return
		}

		out <- event.Value(runID, name, sources.HashCollection{
			Entries: []sources.HashEntry{
				{HashType: u.FirstHashType, Hash: firstHash},
				{HashType: u.SecondHashType, Hash: secondHash},
			},
		})
	}()

	return out
}
