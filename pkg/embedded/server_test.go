package embedded

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/mistakeknot/miochat/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedServerLifecycle(t *testing.T) {
	dir := t.TempDir()
	srv, err := New(Config{DBPath: filepath.Join(dir, "chat.db")})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Start())

	resp, err := http.Get(srv.URL() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx := context.Background()
	added, err := srv.AddUser(ctx, "erin@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "erin", added.Profile.Username)
	assert.FileExists(t, filepath.Join(dir, "miochat.keys.yaml"))

	user, err := client.New(srv.URL(), client.WithToken(added.Token)).CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, added.Profile.ID, user.ID)

	require.NoError(t, srv.Stop())
}

func TestEmbeddedRejectsUnknownPolicy(t *testing.T) {
	_, err := New(Config{DBPath: filepath.Join(t.TempDir(), "x.db"), BlockPolicy: "ghost"})
	assert.Error(t, err)
}
