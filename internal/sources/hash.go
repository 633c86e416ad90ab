// Package sources implements the content-addressed hash model and the
// per-package source manifest (spec §3, §6): HashEntry, HashCollection,
// SourceEntry, and the byte-stable atomic JSON writer that downstream Nix
// evaluations read at build time.
//
// Grounded on original_source/libnix/models/{hash,sources}.py.
package sources

import (
	"regexp"
	"sort"
)

// HashAlgorithm is one of a closed set of content-hash algorithms.
type HashAlgorithm string

const (
	AlgoBlake3 HashAlgorithm = "blake3"
	AlgoMD5    HashAlgorithm = "md5"
	AlgoSHA1   HashAlgorithm = "sha1"
	AlgoSHA256 HashAlgorithm = "sha256"
	AlgoSHA512 HashAlgorithm = "sha512"
)

// validAlgorithms mirrors original_source's HashAlgorithm StrEnum; kept as
// a lookup map rather than iota so the on-disk string form is the source
// of truth, matching the alias-lookup style of the teacher's
// internal/ratchet step-alias map.
var validAlgorithms = map[HashAlgorithm]bool{
	AlgoBlake3: true,
	AlgoMD5:    true,
	AlgoSHA1:   true,
	AlgoSHA256: true,
	AlgoSHA512: true,
}

// IsValidAlgorithm reports whether algo is one of the recognized kinds.
func IsValidAlgorithm(algo HashAlgorithm) bool {
	return validAlgorithms[algo]
}

// sriPattern is the self-describing content hash form used throughout for
// hash interchange: "<algo>-<base64>".
var sriPattern = regexp.MustCompile(`^(blake3|md5|sha1|sha256|sha512)-[A-Za-z0-9+/]+=*$`)

// IsSRI reports whether s matches the SRI digest pattern.
func IsSRI(s string) bool {
	return sriPattern.MatchString(s)
}

// ParseSRI splits an SRI string into its algorithm and base64 digest. It
// returns ok=false if s is not well-formed SRI.
func ParseSRI(s string) (algo HashAlgorithm, digest string, ok bool) {
	m := sriPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	idx := len(m[1]) + 1
	return HashAlgorithm(m[1]), s[idx:], true
}

// MakeSRI joins an algorithm and base64 digest into SRI form.
func MakeSRI(algo HashAlgorithm, digest string) string {
	return string(algo) + "-" + digest
}

// HashType enumerates the roles a HashEntry can play in a source
// manifest. Values are also the on-disk JSON string form.
type HashType string

const (
	HashTypeCargoHash       HashType = "cargoHash"
	HashTypeDenoDepsHash    HashType = "denoDepsHash"
	HashTypeNodeModulesHash HashType = "nodeModulesHash"
	HashTypeNpmDepsHash     HashType = "npmDepsHash"
	HashTypeSHA256          HashType = "sha256"
	HashTypeSrcHash         HashType = "srcHash"
	HashTypeVendorHash      HashType = "vendorHash"
	HashTypeGoModulesHash   HashType = "goModulesHash"
	HashTypeBunDepsHash     HashType = "bunDepsHash"
	HashTypeGitDep          HashType = "gitDepHash"
)

// HashEntry is a single content-addressed digest plus its distinguishing
// tags. Exactly one of the tag fields is normally populated, depending on
// which HashCollection shape the entry lives in.
//
// Field order here matches the on-disk lexicographic key order (§3):
// gitDep, hash, hashType, platform, url, urls.
type HashEntry struct {
	GitDep   string            `json:"gitDep,omitempty"`
	Hash     string            `json:"hash"`
	HashType HashType          `json:"hashType,omitempty"`
	Platform string            `json:"platform,omitempty"`
	URL      string            `json:"url,omitempty"`
	URLs     map[string]string `json:"urls,omitempty"`
}

// Validate checks the invariant that Hash matches the SRI pattern.
func (h HashEntry) Validate() error {
	if !IsSRI(h.Hash) {
		return &InvalidHashError{Hash: h.Hash}
	}
	return nil
}

// InvalidHashError reports a hash digest that fails the SRI pattern.
type InvalidHashError struct {
	Hash string
}

func (e *InvalidHashError) Error() string {
	return "hash entry digest " + e.Hash + " does not match the <algo>-<base64> pattern"
}

// mergeKey is the composite dedup key used when merging list-shaped hash
// collections (spec §3: "hash-type, platform, git-dep, url,
// urls-as-sorted-pairs").
type mergeKey struct {
	hashType HashType
	platform string
	gitDep   string
	url      string
	urlsKey  string
}

func keyOf(h HashEntry) mergeKey {
	return mergeKey{
		hashType: h.HashType,
		platform: h.Platform,
		gitDep:   h.GitDep,
		url:      h.URL,
		urlsKey:  sortedURLsKey(h.URLs),
	}
}

func sortedURLsKey(urls map[string]string) string {
	if len(urls) == 0 {
		return ""
	}
	keys := make([]string, 0, len(urls))
	for k := range urls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + "=" + urls[k] + ";"
	}
	return out
}
