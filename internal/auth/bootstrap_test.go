package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueKeyCreatesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "miochat.keys.yaml")

	k1, err := IssueKey(path, "u-alice")
	require.NoError(t, err)
	k2, err := IssueKey(path, "u-alice")
	require.NoError(t, err)
	k3, err := IssueKey(path, "u-bob")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	ring, err := LoadKeyring(path)
	require.NoError(t, err)
	for key, want := range map[string]string{k1: "u-alice", k2: "u-alice", k3: "u-bob"} {
		got, ok := ring.UserForKey(key)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestIssueKeyRequiresUser(t *testing.T) {
	_, err := IssueKey(filepath.Join(t.TempDir(), "k.yaml"), " ")
	assert.Error(t, err)
}

func TestLoadKeyringMissingFileIsEmpty(t *testing.T) {
	ring, err := LoadKeyring(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, ring.Len())
}

func TestLoadKeyringRejectsSharedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.yaml")
	data := "users:\n  a:\n    keys: [same]\n  b:\n    keys: [same]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	_, err := LoadKeyring(path)
	assert.ErrorContains(t, err, "reused")
}
