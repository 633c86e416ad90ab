package forgetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkze/nix-update-engine/internal/forge"
)

func TestFakeSatisfiesClientInterface(t *testing.T) {
	var _ forge.Client = New()
}

func TestFetchRawFileFixture(t *testing.T) {
	f := New().WithRawFile("acme", "widget", "deadbeef", "Cargo.lock", []byte("content"))

	content, err := f.FetchRawFile(context.Background(), "acme", "widget", "deadbeef", "Cargo.lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), content)
}

func TestFetchRawFileMissingFixtureErrors(t *testing.T) {
	f := New()
	_, err := f.FetchRawFile(context.Background(), "acme", "widget", "deadbeef", "Cargo.lock")
	assert.Error(t, err)
}

func TestTagsFixture(t *testing.T) {
	tags := []forge.Tag{{Name: "v1.2.0", Commit: "abc"}, {Name: "v1.1.0", Commit: "def"}}
	f := New().WithTags("acme", "widget", tags)

	got, err := f.Tags(context.Background(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, tags, got)
}

func TestFetchJSONAssignsFixtureIntoOut(t *testing.T) {
	f := New()
	f.JSONByURL["https://example.com/data.json"] = map[string]string{"key": "value"}

	var out map[string]string
	err := f.FetchJSON(context.Background(), "https://example.com/data.json", &out)
	require.NoError(t, err)
	assert.Equal(t, "value", out["key"])
}

func TestFakeErrReturnedFromEveryMethod(t *testing.T) {
	f := New()
	f.Err = assert.AnError

	_, err := f.FetchRawFile(context.Background(), "a", "b", "c", "d")
	assert.ErrorIs(t, err, assert.AnError)

	_, err = f.LatestCommit(context.Background(), "a", "b", "c", "d")
	assert.ErrorIs(t, err, assert.AnError)

	_, err = f.DefaultBranch(context.Background(), "a", "b")
	assert.ErrorIs(t, err, assert.AnError)

	_, err = f.Releases(context.Background(), "a", "b")
	assert.ErrorIs(t, err, assert.AnError)

	_, err = f.Tags(context.Background(), "a", "b")
	assert.ErrorIs(t, err, assert.AnError)

	err = f.FetchJSON(context.Background(), "url", &struct{}{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCallsAreRecorded(t *testing.T) {
	f := New().WithRawFile("a", "b", "c", "d", []byte("x"))
	_, _ = f.FetchRawFile(context.Background(), "a", "b", "c", "d")
	assert.Len(t, f.Calls, 1)
}
