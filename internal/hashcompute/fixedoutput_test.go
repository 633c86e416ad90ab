package hashcompute

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkze/nix-update-engine/internal/event"
	"github.com/gkze/nix-update-engine/internal/flakelock"
)

// writeFakeNix writes an executable shell script standing in for the
// "nix" binary so ComputeFixedOutputHash and convertToSRI can be
// exercised without a real Nix installation. body is the script's
// shell source (shebang is added automatically).
func writeFakeNix(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-nix")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func drainToSlice(stream <-chan event.Event) []event.Event {
	var out []event.Event
	for ev := range stream {
		out = append(out, ev)
	}
	return out
}

func TestComputeFixedOutputHashExtractsSRIFromMismatch(t *testing.T) {
	nixBin := writeFakeNix(t, `
echo "error: hash mismatch in fixed-output derivation '/nix/store/abc-x.drv':" >&2
echo "         specified: sha256-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=" >&2
echo "            got:    sha256-BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB=" >&2
exit 1
`)
	c := testComputer(t, flakelock.FlakeLock{})
	c.nixBin = nixBin

	events := drainToSlice(c.ComputeFixedOutputHash(context.Background(), "pkg-a", "fake-expr", nil))

	var value string
	for _, ev := range events {
		if ev.Kind == event.KindValue {
			value, _ = ev.Payload.(string)
		}
		assert.NotEqual(t, event.KindError, ev.Kind, "unexpected error event: %+v", ev)
	}
	assert.Equal(t, "sha256-BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB=", value)
}

func TestComputeFixedOutputHashErrorsWhenBuildSucceeds(t *testing.T) {
	nixBin := writeFakeNix(t, `exit 0`)
	c := testComputer(t, flakelock.FlakeLock{})
	c.nixBin = nixBin

	events := drainToSlice(c.ComputeFixedOutputHash(context.Background(), "pkg-a", "fake-expr", nil))

	var sawError bool
	for _, ev := range events {
		if ev.Kind == event.KindError {
			sawError = true
		}
	}
	assert.True(t, sawError, "a build that succeeds must surface as an error")
}

func TestComputeFixedOutputHashErrorsWhenNoMismatchRecognized(t *testing.T) {
	nixBin := writeFakeNix(t, `echo "some unrelated failure" >&2; exit 1`)
	c := testComputer(t, flakelock.FlakeLock{})
	c.nixBin = nixBin

	events := drainToSlice(c.ComputeFixedOutputHash(context.Background(), "pkg-a", "fake-expr", nil))

	var sawError bool
	for _, ev := range events {
		if ev.Kind == event.KindError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestConvertToSRIInvokesHashConvert(t *testing.T) {
	nixBin := writeFakeNix(t, `echo "sha256-CONVERTEDCONVERTEDCONVERTEDCONVERTEDCONVERT="`)
	c := testComputer(t, flakelock.FlakeLock{})
	c.nixBin = nixBin

	events := drainToSlice(c.convertToSRI(context.Background(), uuid.New(), "pkg-a", "deadbeefdeadbeef"))

	require.Len(t, events, 1)
	assert.Equal(t, event.KindValue, events[0].Kind)
	assert.Equal(t, "sha256-CONVERTEDCONVERTEDCONVERTEDCONVERTEDCONVERT=", events[0].Payload)
}

func TestComputeDrvFingerprintParsesDerivationShowOutput(t *testing.T) {
	nixBin := writeFakeNix(t, `echo '{"/nix/store/feedface-my-package.drv": {"outputs": {}}}'`)
	c := testComputer(t, flakelock.FlakeLock{})
	c.nixBin = nixBin

	fp, err := c.ComputeDrvFingerprint(context.Background(), "pkg-a", "")
	require.NoError(t, err)
	assert.Equal(t, "feedface", fp)
}

func TestComputeDrvFingerprintErrorsOnNonZeroExit(t *testing.T) {
	nixBin := writeFakeNix(t, `echo "evaluation failed" >&2; exit 1`)
	c := testComputer(t, flakelock.FlakeLock{})
	c.nixBin = nixBin

	_, err := c.ComputeDrvFingerprint(context.Background(), "pkg-a", "")
	assert.Error(t, err)
}

func TestComputeURLHashesPrefetchesEachURLOnce(t *testing.T) {
	prefetch := filepath.Join(t.TempDir(), "nix-prefetch-url")
	require.NoError(t, os.WriteFile(prefetch, []byte("#!/bin/sh\necho rawhashvalue\n"), 0o755))
	nixBin := writeFakeNix(t, `echo "sha256-URLHASHURLHASHURLHASHURLHASHURLHASHURLHASH="`)

	c := testComputer(t, flakelock.FlakeLock{})
	c.nixBin = nixBin
	c.nixPrefetchURLBin = prefetch

	events := drainToSlice(c.ComputeURLHashes(context.Background(), "pkg-a", []string{
		"https://example.com/a.tar.gz",
		"https://example.com/b.tar.gz",
		"https://example.com/a.tar.gz",
	}))

	var hashes map[string]string
	for _, ev := range events {
		if ev.Kind == event.KindValue {
			hashes, _ = ev.Payload.(map[string]string)
		}
		assert.NotEqual(t, event.KindError, ev.Kind, "unexpected error event: %+v", ev)
	}
	require.NotNil(t, hashes)
	assert.Len(t, hashes, 2)
	assert.Equal(t, "sha256-URLHASHURLHASHURLHASHURLHASHURLHASHURLHASH=", hashes["https://example.com/a.tar.gz"])
	assert.Equal(t, "sha256-URLHASHURLHASHURLHASHURLHASHURLHASHURLHASH=", hashes["https://example.com/b.tar.gz"])
}
