package sources

import "regexp"

var commitPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// SourceEntry is the per-package manifest record (spec §3, §6). All
// fields except Hashes are optional.
type SourceEntry struct {
	Commit  string            `json:"commit,omitempty"`
	DrvHash string            `json:"drvHash,omitempty"`
	Hashes  HashCollection    `json:"hashes"`
	Input   string            `json:"input,omitempty"`
	URLs    map[string]string `json:"urls,omitempty"`
	Version string            `json:"version,omitempty"`
}

// ValidateCommit reports whether Commit, if set, is a well-formed 40-hex
// upstream git revision.
func (e SourceEntry) ValidateCommit() error {
	if e.Commit == "" {
		return nil
	}
	if !commitPattern.MatchString(e.Commit) {
		return &InvalidCommitError{Commit: e.Commit}
	}
	return nil
}

// InvalidCommitError reports a Commit field that isn't 40 lowercase hex
// characters.
type InvalidCommitError struct {
	Commit string
}

func (e *InvalidCommitError) Error() string {
	return "source entry commit " + e.Commit + " is not a 40-character hex revision"
}

// Merge combines e with other: other's scalar fields shadow e's, hash
// collections merge per HashCollection.Merge, and URL maps union (other
// wins on key collision). Associative: a.Merge(b).Merge(c) equals
// a.Merge(b.Merge(c)) because every sub-merge is itself associative.
func (e SourceEntry) Merge(other SourceEntry, sentinel string) (SourceEntry, error) {
	merged := e

	if other.Version != "" {
		merged.Version = other.Version
	}
	if other.Commit != "" {
		merged.Commit = other.Commit
	}
	if other.Input != "" {
		merged.Input = other.Input
	}
	if other.DrvHash != "" {
		merged.DrvHash = other.DrvHash
	}

	hashes, err := e.Hashes.Merge(other.Hashes, sentinel)
	if err != nil {
		return SourceEntry{}, err
	}
	merged.Hashes = hashes

	if len(e.URLs) > 0 || len(other.URLs) > 0 {
		urls := make(map[string]string, len(e.URLs)+len(other.URLs))
		for k, v := range e.URLs {
			urls[k] = v
		}
		for k, v := range other.URLs {
			urls[k] = v
		}
		merged.URLs = urls
	}

	return merged, nil
}

// Equal reports whether two source entries are deeply equal for the
// purposes of the "finalized entry equals the current entry exactly"
// no-op check in the updater framework (spec §4.4 step 8).
func (e SourceEntry) Equal(other SourceEntry) bool {
	if e.Version != other.Version || e.Commit != other.Commit ||
		e.Input != other.Input || e.DrvHash != other.DrvHash {
		return false
	}
	if !stringMapEqual(e.URLs, other.URLs) {
		return false
	}
	return hashCollectionEqual(e.Hashes, other.Hashes)
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func hashCollectionEqual(a, b HashCollection) bool {
	if !stringMapEqual(a.Mapping, b.Mapping) {
		return false
	}
	return hashEntriesEqual(a.Entries, b.Entries)
}

// hashEntriesEqual compares entry slices field-by-field; HashEntry embeds
// a map (URLs) so it is not comparable with ==.
func hashEntriesEqual(a, b []HashEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].GitDep != b[i].GitDep || a[i].Hash != b[i].Hash ||
			a[i].HashType != b[i].HashType || a[i].Platform != b[i].Platform ||
			a[i].URL != b[i].URL || !stringMapEqual(a[i].URLs, b[i].URLs) {
			return false
		}
	}
	return true
}
