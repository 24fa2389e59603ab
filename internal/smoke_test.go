package internal_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mistakeknot/miochat/client"
	"github.com/mistakeknot/miochat/internal/auth"
	"github.com/mistakeknot/miochat/internal/core"
	httpapi "github.com/mistakeknot/miochat/internal/http"
	"github.com/mistakeknot/miochat/internal/storage/sqlite"
	"github.com/mistakeknot/miochat/internal/ws"
	"github.com/mistakeknot/miochat/pkg/messenger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func login(ctx context.Context, t *testing.T, baseURL, token string) *messenger.Session {
	t.Helper()
	rest := client.New(baseURL, client.WithToken(token))
	channel := client.NewWSClient(baseURL, client.WithWSToken(token))
	s, err := messenger.NewSession(ctx, rest, rest, channel, messenger.WithTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func contents(msgs []messenger.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

// TestTwoSessionsExchangeMessages drives two sessions through the real HTTP
// API, SQLite store and WebSocket channel.
func TestTwoSessionsExchangeMessages(t *testing.T) {
	st := sqlite.NewSQLiteTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, p := range []core.Profile{
		{ID: "u-alice", Username: "alice", Email: "alice@example.com"},
		{ID: "u-bob", Username: "bob", Email: "bob@example.com"},
		{ID: "u-carol", Username: "carol", Email: "carol@example.com"},
	} {
		_, err := st.CreateProfile(ctx, p)
		require.NoError(t, err)
	}
	hub := ws.NewHub()
	svc := httpapi.NewService(st).WithBroadcaster(hub)
	ring := auth.NewKeyring(map[string]string{"tok-a": "u-alice", "tok-b": "u-bob", "tok-c": "u-carol"})
	srv := httptest.NewServer(httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(ring)))
	defer srv.Close()

	alice := login(ctx, t, srv.URL, "tok-a")
	bob := login(ctx, t, srv.URL, "tok-b")
	carol := login(ctx, t, srv.URL, "tok-c")
	assert.Equal(t, "alice", alice.Profile().Username)
	assert.Equal(t, "alice@example.com", alice.Profile().Email)

	found, err := alice.Search(ctx, "bo")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "u-bob", found[0].ID)

	require.NoError(t, alice.AddFriend(ctx, "u-bob"))
	assert.Empty(t, alice.SearchResults())
	require.Len(t, alice.Contacts(), 1)
	assert.Equal(t, messenger.StatusFriend, alice.Contacts()[0].Status)

	require.NoError(t, alice.Select(ctx, "u-bob"))
	require.NoError(t, bob.Select(ctx, "u-alice"))
	assert.Equal(t, messenger.StateActive, alice.State())

	res := alice.Send(ctx, "hi")
	require.Equal(t, messenger.SendSucceeded, res.Status, "%v", res.Err)

	res = bob.Send(ctx, "hello")
	require.Equal(t, messenger.SendSucceeded, res.Status, "%v", res.Err)

	// carol writes to alice; it must not leak into the alice/bob view.
	require.NoError(t, carol.Select(ctx, "u-alice"))
	res = carol.Send(ctx, "psst")
	require.Equal(t, messenger.SendSucceeded, res.Status, "%v", res.Err)

	for name, s := range map[string]*messenger.Session{"alice": alice, "bob": bob} {
		require.Eventually(t, func() bool {
			return len(s.Messages()) == 2
		}, 3*time.Second, 10*time.Millisecond, name)
		assert.Equal(t, []string{"hi", "hello"}, contents(s.Messages()), name)
	}

	history, err := bob.History(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello"}, contents(history))

	// Nothing arrives twice even after a little more time.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, alice.Messages(), 2)

	require.NoError(t, alice.Block(ctx, "u-bob"))
	assert.Empty(t, alice.Contacts())
}
