package procx

import "regexp"

// sriPattern matches a well-formed SRI string: <algo>-<base64digest>.
var sriPattern = regexp.MustCompile(`^(?:blake3|md5|sha1|sha256|sha512)-[A-Za-z0-9+/]+=*$`)

const hashAlgos = `(?:blake3|md5|sha1|sha256|sha512)`

var (
	sriGotPattern       = regexp.MustCompile(`got:\s*(` + hashAlgos + `-[A-Za-z0-9+/]+=*)`)
	sriSpecifiedPattern = regexp.MustCompile(`specified:\s*(` + hashAlgos + `-[A-Za-z0-9+/]+=*)`)

	// Nix-base32 uses the alphabet 0123456789abcdfghijklmnpqrsvwxyz (32
	// chars, excluding e/o/t/u). sha256 lengths: hex=64, Nix32=52. sha512:
	// hex=128, Nix32=103. sha1: hex=40, Nix32=32.
	fallbackGotPattern = regexp.MustCompile(`got:\s*(` +
		hashAlgos + `:[0-9a-fA-F]+` +
		`|[0-9a-fA-F]{40,128}` +
		`|[0-9a-df-np-sv-z]{32,103}` +
		`)`)
	fallbackSpecifiedPattern = regexp.MustCompile(`specified:\s*(` +
		hashAlgos + `:[0-9a-fA-F]+` +
		`|[0-9a-fA-F]{40,128}` +
		`|[0-9a-df-np-sv-z]{32,103}` +
		`)`)

	// drvPathPattern matches both "hash mismatch in fixed-output
	// derivation" and "(ca) hash mismatch importing path" from
	// local-store.cc.
	drvPathPattern = regexp.MustCompile(`(?:hash mismatch in fixed-output derivation|` +
		`(?:ca )?hash mismatch importing path)` +
		`\s+'([^']+)'`)
)

// HashMismatch is the structured result of parsing a build-tool failure
// for a fixed-output or content-addressed hash mismatch. It is the
// single extraction site in the engine for this pattern family.
type HashMismatch struct {
	// Got is the digest Nix reports it actually computed, in its
	// original encoding (SRI, algo:hex, bare hex, or Nix32).
	Got string
	// Specified is the digest the derivation declared, when present.
	Specified string
	// DrvPath is the derivation or store path implicated, when present.
	DrvPath string
}

// IsSRI reports whether Got is already in SRI form.
func (h HashMismatch) IsSRI() bool {
	return sriPattern.MatchString(h.Got)
}

// ExtractHashMismatch parses output (combined stdout+stderr text from a
// failed build-tool invocation) for a recognizable hash-mismatch
// message. It returns false when output carries no such pattern.
//
// When nested derivation failures produce multiple matches, the last
// (innermost, most relevant) match wins, mirroring
// libnix/commands/base.py's HashMismatchError.from_output.
func ExtractHashMismatch(output string) (HashMismatch, bool) {
	var got string
	if matches := sriGotPattern.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		got = matches[len(matches)-1][1]
	} else if matches := fallbackGotPattern.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		got = matches[len(matches)-1][1]
	} else {
		return HashMismatch{}, false
	}

	var specified string
	if matches := sriSpecifiedPattern.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		specified = matches[len(matches)-1][1]
	} else if matches := fallbackSpecifiedPattern.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		specified = matches[len(matches)-1][1]
	}

	var drvPath string
	if matches := drvPathPattern.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		drvPath = matches[len(matches)-1][1]
	}

	return HashMismatch{Got: got, Specified: specified, DrvPath: drvPath}, true
}
