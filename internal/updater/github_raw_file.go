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

// GitHubRawFileUpdater pins the latest commit to have touched a single
// file at a fixed owner/repo/path, hashing that file's raw content at
// that commit.
type GitHubRawFileUpdater struct {
	HashEntryUpdater
	Owner, Repo, Path string
	Computer          *hashcompute.Computer
}

// NewGitHubRawFileUpdater builds a GitHubRawFileUpdater.
func NewGitHubRawFileUpdater(name, owner, repo, path string, computer *hashcompute.Computer) *GitHubRawFileUpdater {
	return &GitHubRawFileUpdater{
		HashEntryUpdater: HashEntryUpdater{BaseUpdater: NewBase(name)},
		Owner:            owner,
		Repo:             repo,
		Path:             path,
		Computer:         computer,
	}
}

// FetchLatest resolves the repo's default branch, then the latest
// commit that touched Path on that branch; the commit SHA doubles as
// the tracked "version".
func (u *GitHubRawFileUpdater) FetchLatest(ctx context.Context, client forge.Client) (VersionInfo, error) {
	branch, err := client.DefaultBranch(ctx, u.Owner, u.Repo)
	if err != nil {
		return VersionInfo{}, err
	}
	rev, err := client.LatestCommit(ctx, u.Owner, u.Repo, u.Path, branch)
	if err != nil {
		return VersionInfo{}, err
	}
	return VersionInfo{Version: rev, Metadata: map[string]any{"rev": rev, "branch": branch}}, nil
}

// rawURL builds the raw-content URL for rev, following the common
// "raw.githubusercontent.com/<owner>/<repo>/<rev>/<path>" shape.
func (u *GitHubRawFileUpdater) rawURL(rev string) string {
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", u.Owner, u.Repo, rev, u.Path)
}

// FetchHashes hashes the pinned file's raw content at the resolved
// commit and emits a single sha256 hash entry tagged with the URL it
// came from.
func (u *GitHubRawFileUpdater) FetchHashes(ctx context.Context, _ forge.Client, info VersionInfo) <-chan event.Event {
	out := make(chan event.Event)
	name := u.Name()

	go func() {
		defer close(out)

		rev, _ := info.Metadata["rev"].(string)
		url := u.rawURL(rev)

		forwarded, getValue := event.CaptureValue(name, u.Computer.ComputeURLHashes(ctx, name, []string{url}))
		runID := uuid.New()
		for ev := range forwarded {
			runID = ev.RunID
			out <- ev
			if ev.Kind == event.KindError {
				return
			}
		}
		v, err := getValue()
		if err != nil {
			out <- event.Error(runID, name, err)
			return
		}
		hashesByURL, ok := v.(map[string]string)
		if !ok {
			out <- event.Error(runID, name, &UnexpectedValueTypeError{Updater: name, Got: v})
			return
		}
		out <- event.Value(runID, name, sources.HashCollection{
			Entries: []sources.HashEntry{{HashType: sources.HashTypeSHA256, Hash: hashesByURL[url], URL: url}},
		})
	}()

	return out
}
