package hashcompute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFingerprintOldStyleTopLevelKey(t *testing.T) {
	stdout := `{"/nix/store/abc123-my-package.drv": {"outputs": {}}}`
	fp, err := extractFingerprint(stdout)
	require.NoError(t, err)
	assert.Equal(t, "abc123", fp)
}

func TestExtractFingerprintNewStyleWrappedInDerivations(t *testing.T) {
	stdout := `{"derivations": {"/nix/store/xyz789-my-package.drv": {"outputs": {}}}}`
	fp, err := extractFingerprint(stdout)
	require.NoError(t, err)
	assert.Equal(t, "xyz789", fp)
}

func TestExtractFingerprintStripsNoStorePrefix(t *testing.T) {
	stdout := `{"abc123-my-package.drv": {}}`
	fp, err := extractFingerprint(stdout)
	require.NoError(t, err)
	assert.Equal(t, "abc123", fp)
}

func TestExtractFingerprintMalformedJSON(t *testing.T) {
	_, err := extractFingerprint("not json")
	assert.Error(t, err)
}

func TestExtractFingerprintEmptyObject(t *testing.T) {
	_, err := extractFingerprint("{}")
	assert.Error(t, err)
}
