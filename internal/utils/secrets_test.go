package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"storyteller/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSecretFrom(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "firebase_api_key"), []byte("  key-123\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), []byte("\n"), 0o600))

	v, err := utils.ReadSecretFrom(dir, "firebase_api_key")
	require.NoError(t, err)
	assert.Equal(t, "key-123", v)

	_, err = utils.ReadSecretFrom(dir, "empty")
	assert.Error(t, err)

	_, err = utils.ReadSecretFrom(dir, "missing")
	assert.Error(t, err)
}

func TestOptionalSecret(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "initial_auth_token"), []byte("from-file"), 0o600))

	v, err := utils.OptionalSecret(dir, "initial_auth_token", "from-env")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	v, err = utils.OptionalSecret(dir, "initial_auth_token", "")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)

	v, err = utils.OptionalSecret(dir, "missing", "")
	require.NoError(t, err)
	assert.Empty(t, v)
}
