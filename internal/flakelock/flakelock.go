// Package flakelock models the flake.lock dependency graph: a JSON
// document with no official schema, hand-translated from
// libnix/models/flake_lock.py's pydantic models into plain Go structs
// with a custom unmarshaler for the node/path union in Inputs.
package flakelock

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LockedRef is a fully-resolved flake input reference: an exact
// revision, content hash, and timestamp. Different source types
// populate different subsets of the optional fields.
type LockedRef struct {
	Type     string `json:"type"`
	NarHash  string `json:"narHash"`
	Rev      string `json:"rev,omitempty"`
	LastMod  int64  `json:"lastModified,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Repo     string `json:"repo,omitempty"`
	URL      string `json:"url,omitempty"`
	Ref      string `json:"ref,omitempty"`
	Path     string `json:"path,omitempty"`
	RevCount int    `json:"revCount,omitempty"`
}

// OriginalRef is the user-authored flake input reference before
// resolution — e.g. just owner+repo for a GitHub flake.
type OriginalRef struct {
	Type  string `json:"type"`
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
	URL   string `json:"url,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Path  string `json:"path,omitempty"`
}

// InputRef is the value of a FlakeLockNode.Inputs entry: either a plain
// node name, or a follow-through path of node names
// (e.g. ["nixvim", "nixpkgs"]).
type InputRef struct {
	Name string
	Path []string
}

// IsPath reports whether this reference is a multi-segment
// follow-through path rather than a single node name.
func (r InputRef) IsPath() bool { return len(r.Path) > 0 }

// MarshalJSON emits a bare string for a single-name reference and an
// array for a path.
func (r InputRef) MarshalJSON() ([]byte, error) {
	if r.IsPath() {
		return json.Marshal(r.Path)
	}
	return json.Marshal(r.Name)
}

// UnmarshalJSON accepts either a JSON string or a JSON array of
// strings.
func (r *InputRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*r = InputRef{Name: name}
		return nil
	}
	var path []string
	if err := json.Unmarshal(data, &path); err == nil {
		*r = InputRef{Path: path}
		return nil
	}
	return fmt.Errorf("flakelock: input ref is neither a string nor a string array: %s", data)
}

// FlakeLockNode is a single node in the flake.lock dependency graph.
// The root node typically has only Inputs; leaf nodes have Locked and
// Original but may omit Inputs.
type FlakeLockNode struct {
	Locked   *LockedRef          `json:"locked,omitempty"`
	Original *OriginalRef        `json:"original,omitempty"`
	Inputs   map[string]InputRef `json:"inputs,omitempty"`
	// Flake is explicitly false for non-flake inputs; a nil pointer
	// means true (Nix's own convention of omitting the default).
	Flake *bool `json:"flake,omitempty"`
}

// FlakeLock is the top-level flake.lock document.
type FlakeLock struct {
	Nodes   map[string]FlakeLockNode `json:"nodes"`
	Root    string                   `json:"root"`
	Version int                      `json:"version"`
}

// Parse decodes a flake.lock JSON document.
func Parse(data []byte) (FlakeLock, error) {
	var lock FlakeLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return FlakeLock{}, fmt.Errorf("flakelock: parse: %w", err)
	}
	if lock.Root == "" {
		lock.Root = "root"
	}
	return lock, nil
}

// RootNode returns the root node of the dependency graph.
func (l FlakeLock) RootNode() (FlakeLockNode, bool) {
	n, ok := l.Nodes[l.Root]
	return n, ok
}

// InputNames returns the sorted list of the root node's direct input
// names.
func (l FlakeLock) InputNames() []string {
	root, ok := l.RootNode()
	if !ok || root.Inputs == nil {
		return nil
	}
	names := make([]string, 0, len(root.Inputs))
	for name := range root.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetLocked resolves a root-level input name to its LockedRef,
// following single-level indirection: a plain node-name value resolves
// directly; a path value (e.g. ["nixvim", "nixpkgs"]) is walked through
// each intermediate node's Inputs map. Returns false when the input, an
// intermediate node, or the final node's Locked field is absent.
func (l FlakeLock) GetLocked(inputName string) (LockedRef, bool) {
	root, ok := l.RootNode()
	if !ok || root.Inputs == nil {
		return LockedRef{}, false
	}
	target, ok := root.Inputs[inputName]
	if !ok {
		return LockedRef{}, false
	}

	if !target.IsPath() {
		node, ok := l.Nodes[target.Name]
		if !ok || node.Locked == nil {
			return LockedRef{}, false
		}
		return *node.Locked, true
	}

	var nodeName string
	for i, segment := range target.Path {
		if i == 0 {
			nodeName = segment
			continue
		}
		node, ok := l.Nodes[nodeName]
		if !ok || node.Inputs == nil {
			return LockedRef{}, false
		}
		ref, ok := node.Inputs[segment]
		if !ok || ref.IsPath() {
			return LockedRef{}, false
		}
		nodeName = ref.Name
	}

	final, ok := l.Nodes[nodeName]
	if !ok || final.Locked == nil {
		return LockedRef{}, false
	}
	return *final.Locked, true
}
