package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the per-package manifest file name (spec §6).
const FileName = "sources.json"

// Load reads and unmarshals a sources.json file. A missing file returns
// a zero-value SourceEntry and no error, matching "no prior entry" callers
// that treat a fresh package the same as an empty one.
func Load(path string) (SourceEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return SourceEntry{}, nil
	}
	if err != nil {
		return SourceEntry{}, fmt.Errorf("read %s: %w", path, err)
	}
	var entry SourceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return SourceEntry{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return entry, nil
}

// Save writes entry to path using the atomic-write contract of spec §6:
// a temp file in the same directory, fsynced, chmoded to the existing
// file's mode when present, then renamed over the destination. On any
// failure the temp file is unlinked.
//
// The JSON encoding is byte-stable: keys are sorted lexicographically
// (guaranteed by Go's encoding/json for map keys, and by struct field
// declaration order here matching lexicographic order — see entry.go and
// hash.go field ordering comments) and the file ends with exactly one
// trailing newline.
//
// Grounded on the teacher's internal/storage/file.go atomicWrite: same
// os.CreateTemp + Sync + Close + Rename + unlink-on-failure shape,
// generalized here to also preserve the destination's file mode across
// the rename, which spec §6 requires and the teacher's version did not
// need.
func Save(path string, entry SourceEntry) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode()
	}

	payload, err := encode(entry)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".sources-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// encode renders entry as lexicographically-keyed JSON with a trailing
// newline, indented two spaces to match the upstream manifest style.
func encode(entry SourceEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entry); err != nil {
		return nil, err
	}
	// json.Encoder.Encode already appends exactly one trailing newline.
	return buf.Bytes(), nil
}
