// Package forgetest provides a deterministic in-memory fake of
// forge.Client for use in tests across the engine. No package outside
// _test.go files should import this.
package forgetest

import (
	"context"
	"fmt"

	"github.com/gkze/nix-update-engine/internal/forge"
)

// rawFileKey identifies one file at one revision.
type rawFileKey struct {
	owner, repo, rev, path string
}

// Fake is a scriptable forge.Client. Populate its fields before use.
// FetchRawFile, LatestCommit, DefaultBranch and FetchJSON return a
// descriptive error for a missing fixture; Releases and Tags return an
// empty list for a repo with no fixture.
type Fake struct {
	RawFiles map[rawFileKey][]byte

	// LatestCommits maps "owner/repo/path/branch" to a commit SHA.
	LatestCommits map[string]string

	// DefaultBranches maps "owner/repo" to a branch name.
	DefaultBranches map[string]string

	ReleasesByRepo map[string][]forge.Release
	TagsByRepo     map[string][]forge.Tag

	// JSONByURL maps a URL to a pre-decoded value; FetchJSON copies it
	// into out via a round-trip through the caller's pointer type using
	// a type assertion, so the stored value's concrete type must match
	// what callers pass as out.
	JSONByURL map[string]any

	// Err, when non-nil, is returned by every method, modeling an
	// exhausted-retry forge failure.
	Err error

	// Calls records every method invocation for assertions.
	Calls []string
}

// New returns an empty Fake with its maps initialized.
func New() *Fake {
	return &Fake{
		RawFiles:        map[rawFileKey][]byte{},
		LatestCommits:   map[string]string{},
		DefaultBranches: map[string]string{},
		ReleasesByRepo:  map[string][]forge.Release{},
		TagsByRepo:      map[string][]forge.Tag{},
		JSONByURL:       map[string]any{},
	}
}

// WithRawFile registers a fixture for FetchRawFile and returns the fake
// for chaining.
func (f *Fake) WithRawFile(owner, repo, rev, path string, content []byte) *Fake {
	f.RawFiles[rawFileKey{owner, repo, rev, path}] = content
	return f
}

// WithTags registers the tag list for owner/repo and returns the fake
// for chaining.
func (f *Fake) WithTags(owner, repo string, tags []forge.Tag) *Fake {
	f.TagsByRepo[owner+"/"+repo] = tags
	return f
}

// WithReleases registers the release list for owner/repo and returns
// the fake for chaining.
func (f *Fake) WithReleases(owner, repo string, releases []forge.Release) *Fake {
	f.ReleasesByRepo[owner+"/"+repo] = releases
	return f
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *Fake) FetchRawFile(_ context.Context, owner, repo, rev, path string) ([]byte, error) {
	f.record(fmt.Sprintf("FetchRawFile(%s,%s,%s,%s)", owner, repo, rev, path))
	if f.Err != nil {
		return nil, f.Err
	}
	content, ok := f.RawFiles[rawFileKey{owner, repo, rev, path}]
	if !ok {
		return nil, fmt.Errorf("forgetest: no fixture for %s/%s@%s:%s", owner, repo, rev, path)
	}
	return content, nil
}

func (f *Fake) LatestCommit(_ context.Context, owner, repo, path, branch string) (string, error) {
	key := fmt.Sprintf("%s/%s/%s/%s", owner, repo, path, branch)
	f.record("LatestCommit(" + key + ")")
	if f.Err != nil {
		return "", f.Err
	}
	commit, ok := f.LatestCommits[key]
	if !ok {
		return "", fmt.Errorf("forgetest: no fixture for latest commit %s", key)
	}
	return commit, nil
}

func (f *Fake) DefaultBranch(_ context.Context, owner, repo string) (string, error) {
	key := owner + "/" + repo
	f.record("DefaultBranch(" + key + ")")
	if f.Err != nil {
		return "", f.Err
	}
	branch, ok := f.DefaultBranches[key]
	if !ok {
		return "", fmt.Errorf("forgetest: no fixture for default branch %s", key)
	}
	return branch, nil
}

func (f *Fake) Releases(_ context.Context, owner, repo string) ([]forge.Release, error) {
	f.record("Releases(" + owner + "/" + repo + ")")
	if f.Err != nil {
		return nil, f.Err
	}
	return f.ReleasesByRepo[owner+"/"+repo], nil
}

func (f *Fake) Tags(_ context.Context, owner, repo string) ([]forge.Tag, error) {
	f.record("Tags(" + owner + "/" + repo + ")")
	if f.Err != nil {
		return nil, f.Err
	}
	return f.TagsByRepo[owner+"/"+repo], nil
}

func (f *Fake) FetchJSON(_ context.Context, url string, out any) error {
	f.record("FetchJSON(" + url + ")")
	if f.Err != nil {
		return f.Err
	}
	val, ok := f.JSONByURL[url]
	if !ok {
		return fmt.Errorf("forgetest: no fixture for JSON url %s", url)
	}
	return assignInto(out, val)
}

// assignInto copies val into the pointer out via a type-asserted
// pointer dereference; both sides must agree on the concrete type.
func assignInto(out any, val any) error {
	switch dst := out.(type) {
	case *any:
		*dst = val
		return nil
	default:
		return copyValue(out, val)
	}
}
