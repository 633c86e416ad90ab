// Package hashcompute implements the hash-computation strategies of
// spec §4.3: fixed-output derivation hashing via deliberate mismatch,
// overlay-based package hashing, derivation fingerprinting, and the
// platform-sharded and git-dependency variants layered on top of them.
//
// Grounded on original_source/lib/update/nix.py in full.
package hashcompute

import "runtime"

// CurrentPlatform returns the running machine as a Nix platform
// string, e.g. "x86_64-linux" or "aarch64-darwin".
func CurrentPlatform() string {
	arch := runtime.GOARCH
	switch arch {
	case "arm64":
		arch = "aarch64"
	case "amd64":
		arch = "x86_64"
	}

	system := runtime.GOOS
	switch system {
	case "darwin":
		system = "darwin"
	case "linux":
		system = "linux"
	}

	return arch + "-" + system
}
