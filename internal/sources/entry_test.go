package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceEntryMergeScalarShadow(t *testing.T) {
	a := SourceEntry{Version: "1.0.0", Input: "upstream"}
	b := SourceEntry{Version: "1.1.0"}

	merged, err := a.Merge(b, sentinel)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", merged.Version, "other's scalar shadows self's")
	assert.Equal(t, "upstream", merged.Input, "field only in self is preserved")
}

func TestSourceEntryMergeURLsUnion(t *testing.T) {
	a := SourceEntry{URLs: map[string]string{"x86_64-linux": "https://a"}}
	b := SourceEntry{URLs: map[string]string{"aarch64-darwin": "https://b"}}

	merged, err := a.Merge(b, sentinel)
	require.NoError(t, err)
	assert.Equal(t, "https://a", merged.URLs["x86_64-linux"])
	assert.Equal(t, "https://b", merged.URLs["aarch64-darwin"])
}

func TestSourceEntryValidateCommit(t *testing.T) {
	valid := SourceEntry{Commit: "0123456789abcdef0123456789abcdef01234567"}
	assert.NoError(t, valid.ValidateCommit())

	invalid := SourceEntry{Commit: "too-short"}
	assert.Error(t, invalid.ValidateCommit())
}

func TestSourceEntryEqual(t *testing.T) {
	a := SourceEntry{Version: "1.0.0", Hashes: HashCollection{Entries: []HashEntry{{Hash: "sha256-AAA="}}}}
	b := SourceEntry{Version: "1.0.0", Hashes: HashCollection{Entries: []HashEntry{{Hash: "sha256-AAA="}}}}
	c := SourceEntry{Version: "1.0.1", Hashes: HashCollection{Entries: []HashEntry{{Hash: "sha256-AAA="}}}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
