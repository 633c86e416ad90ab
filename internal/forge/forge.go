// Package forge defines the external collaborator contract for forge
// (GitHub-shaped) APIs: raw file fetch, commit/branch/tag lookups, and
// generic JSON fetch. No implementation ships here — the HTTP/retry
// transport is explicitly out of scope (spec §1); callers depend only
// on Client, and tests use forgetest's in-memory fake.
package forge

import (
	"context"
	"time"
)

// Release is a forge release/tag-with-metadata entry.
type Release struct {
	TagName     string
	Name        string
	PublishedAt time.Time
	Prerelease  bool
	Draft       bool
}

// Tag is a lightweight forge tag reference.
type Tag struct {
	Name   string
	Commit string
	// CommitTime is populated on a best-effort basis; a zero value means
	// the implementation did not provide it (spec §9, ordering invariant
	// decision 3).
	CommitTime time.Time
}

// Client is the contract any forge implementation (GitHub, GitLab, a
// self-hosted forge) must satisfy.
//
// Retry/rate-limit contract: implementations MUST retry transient
// failures (connection reset, 5xx, network timeout) internally up to
// their own configured retry budget before returning; callers of this
// interface never retry a forge call themselves. A rate-limit response
// that survives the retry budget must surface as
// engineerr.RateLimitError; any other exhausted-retry failure must
// surface as engineerr.NetworkError. The "first matching tag wins"
// behavior used by the ref-update path also relies on Tags returning
// results in reverse-chronological order — an implementation that
// cannot guarantee this must populate Tag.CommitTime so callers can
// detect and warn on out-of-order results.
type Client interface {
	FetchRawFile(ctx context.Context, owner, repo, rev, path string) ([]byte, error)
	LatestCommit(ctx context.Context, owner, repo, path, branch string) (string, error)
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	Releases(ctx context.Context, owner, repo string) ([]Release, error)
	Tags(ctx context.Context, owner, repo string) ([]Tag, error)
	FetchJSON(ctx context.Context, url string, out any) error
}
