package sources

import "encoding/json"

// MarshalJSON renders the collection as whichever shape is populated: a
// JSON array of hash-entry objects, or a JSON object mapping platform to
// SRI digest. An empty collection renders as an empty array, matching the
// list shape (the more general of the two).
func (c HashCollection) MarshalJSON() ([]byte, error) {
	if len(c.Mapping) > 0 {
		return json.Marshal(c.Mapping)
	}
	if c.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Entries)
}

// UnmarshalJSON detects the shape from the leading JSON token: '[' means
// a list of hash entries, '{' means a platform map.
func (c *HashCollection) UnmarshalJSON(data []byte) error {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 {
		*c = HashCollection{}
		return nil
	}
	switch trimmed[0] {
	case '[':
		var entries []HashEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*c = HashCollection{Entries: entries}
		return nil
	case '{':
		var mapping map[string]string
		if err := json.Unmarshal(data, &mapping); err != nil {
			return err
		}
		*c = HashCollection{Mapping: mapping}
		return nil
	default:
		return ErrMixedShape
	}
}

func trimLeadingSpace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return data[i:]
}
