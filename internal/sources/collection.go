package sources

import "fmt"

// HashCollection is one of two disjoint shapes (spec §3): a list of hash
// entries, or a mapping from platform tag to digest. A collection uses
// exactly one shape; constructing or merging a list with a map is a hard
// error.
type HashCollection struct {
	Entries []HashEntry       `json:"-"`
	Mapping map[string]string `json:"-"`
}

// ErrMixedShape is returned when a HashCollection operation would combine
// the list shape and the mapping shape.
var ErrMixedShape = fmt.Errorf("hash collection cannot mix list and platform-map shapes")

// IsMapping reports whether c uses the platform-map shape. An empty
// collection reports false (neither shape committed yet).
func (c HashCollection) IsMapping() bool {
	return len(c.Mapping) > 0 && len(c.Entries) == 0
}

// IsList reports whether c uses the list-of-entries shape.
func (c HashCollection) IsList() bool {
	return len(c.Entries) > 0
}

func (c HashCollection) shapeConflict(other HashCollection) bool {
	cIsMap := len(c.Mapping) > 0
	cIsList := len(c.Entries) > 0
	oIsMap := len(other.Mapping) > 0
	oIsList := len(other.Entries) > 0
	if cIsMap && oIsList {
		return true
	}
	if cIsList && oIsMap {
		return true
	}
	return false
}

// Merge combines c with other, returning a new HashCollection. Per spec
// §3/§8:
//   - merging a list with a map is a hard error,
//   - list-shaped merges dedup by (hashType, platform, gitDep, url,
//     sorted-urls), last non-sentinel entry wins,
//   - any entry whose digest equals sentinel is dropped,
//   - map-shaped merges are a plain key overwrite (last wins) with the
//     same sentinel-drop rule,
//   - merging a collection with itself is the identity.
func (c HashCollection) Merge(other HashCollection, sentinel string) (HashCollection, error) {
	if c.shapeConflict(other) {
		return HashCollection{}, ErrMixedShape
	}

	if len(c.Mapping) > 0 || len(other.Mapping) > 0 {
		merged := make(map[string]string, len(c.Mapping)+len(other.Mapping))
		for k, v := range c.Mapping {
			if v != sentinel {
				merged[k] = v
			}
		}
		for k, v := range other.Mapping {
			if v == sentinel {
				continue
			}
			merged[k] = v
		}
		if len(merged) == 0 {
			return HashCollection{}, nil
		}
		return HashCollection{Mapping: merged}, nil
	}

	// List shape: last non-sentinel entry wins per composite key, in the
	// order self-entries-then-other-entries so "last" means "from other
	// if other has this key, else from self".
	byKey := make(map[mergeKey]HashEntry, len(c.Entries)+len(other.Entries))
	order := make([]mergeKey, 0, len(c.Entries)+len(other.Entries))
	appendEntry := func(h HashEntry) {
		if h.Hash == sentinel {
			return
		}
		k := keyOf(h)
		if _, exists := byKey[k]; !exists {
			order = append(order, k)
		}
		byKey[k] = h
	}
	for _, e := range c.Entries {
		appendEntry(e)
	}
	for _, e := range other.Entries {
		appendEntry(e)
	}
	if len(order) == 0 {
		return HashCollection{}, nil
	}
	result := make([]HashEntry, 0, len(order))
	for _, k := range order {
		result = append(result, byKey[k])
	}
	return HashCollection{Entries: result}, nil
}
