package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mistakeknot/miochat/internal/auth"
	"github.com/mistakeknot/miochat/internal/core"
	httpapi "github.com/mistakeknot/miochat/internal/http"
	"github.com/mistakeknot/miochat/internal/storage/sqlite"
	"github.com/mistakeknot/miochat/internal/ws"
	"github.com/mistakeknot/miochat/pkg/messenger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) string {
	t.Helper()
	st := sqlite.NewSQLiteTest(t)
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		_, err := st.CreateProfile(ctx, core.Profile{ID: "u-" + name, Username: name, Email: name + "@example.com"})
		require.NoError(t, err)
	}
	hub := ws.NewHub()
	svc := httpapi.NewService(st).WithBroadcaster(hub)
	ring := auth.NewKeyring(map[string]string{"tok-alice": "u-alice", "tok-bob": "u-bob"})
	srv := httptest.NewServer(httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(ring)))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestCurrentUser(t *testing.T) {
	url := newServer(t)
	ctx := context.Background()

	_, err := New(url).CurrentUser(ctx)
	assert.True(t, errors.Is(err, messenger.ErrAuthenticationRequired))

	_, err = New(url, WithToken("bogus")).CurrentUser(ctx)
	assert.True(t, errors.Is(err, messenger.ErrAuthenticationRequired))

	user, err := New(url, WithToken("tok-alice")).CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, messenger.User{ID: "u-alice", Email: "alice@example.com"}, user)
}

func TestStoreRoundTrip(t *testing.T) {
	url := newServer(t)
	ctx := context.Background()
	alice := New(url, WithToken("tok-alice"))
	bob := New(url, WithToken("tok-bob"))
	_, err := alice.CurrentUser(ctx)
	require.NoError(t, err)
	_, err = bob.CurrentUser(ctx)
	require.NoError(t, err)

	found, err := alice.SearchProfiles(ctx, "bo", "u-alice")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0].Username)
	assert.Empty(t, found[0].Email)

	require.NoError(t, alice.UpsertRelationship(ctx, messenger.Relationship{OwnerID: "u-alice", PeerID: "u-bob", Status: messenger.StatusFriend}))
	contacts, err := alice.ListRelationships(ctx, "u-alice")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, messenger.StatusFriend, contacts[0].Status)
	assert.Equal(t, "u-bob", contacts[0].Profile.ID)

	sent, err := alice.InsertMessage(ctx, messenger.Message{ID: "m-1", SenderID: "u-alice", ReceiverID: "u-bob", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", sent.ID)
	assert.False(t, sent.CreatedAt.IsZero())

	again, err := alice.InsertMessage(ctx, messenger.Message{ID: "m-1", SenderID: "u-alice", ReceiverID: "u-bob", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, sent.Seq, again.Seq)

	_, err = bob.InsertMessage(ctx, messenger.Message{ID: "m-2", SenderID: "u-bob", ReceiverID: "u-alice", Content: "hello"})
	require.NoError(t, err)

	fromAlice, err := alice.Conversation(ctx, "u-alice", "u-bob")
	require.NoError(t, err)
	fromBob, err := bob.Conversation(ctx, "u-alice", "u-bob")
	require.NoError(t, err)
	assert.Equal(t, fromAlice, fromBob)
	require.Len(t, fromAlice, 2)
	assert.Equal(t, "hi", fromAlice[0].Content)

	name := "alicia"
	p, err := alice.UpdateProfile(ctx, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "alicia", p.Username)
}

func TestStoreRequiresResolvedUser(t *testing.T) {
	url := newServer(t)
	c := New(url, WithToken("tok-alice"))
	_, err := c.ListRelationships(context.Background(), "u-alice")
	assert.True(t, errors.Is(err, messenger.ErrAuthenticationRequired))
}

func TestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, ``, func(err error) bool { return errors.Is(err, messenger.ErrAuthenticationRequired) }},
		{"blocked", http.StatusForbidden, `{"error":"blocked"}`, func(err error) bool { return errors.Is(err, messenger.ErrPeerBlocked) }},
		{"empty", http.StatusBadRequest, `{"error":"empty_content"}`, func(err error) bool { return errors.Is(err, messenger.ErrEmptyContent) }},
		{"query", http.StatusBadRequest, `{"error":"invalid_query"}`, messenger.IsValidation},
		{"not found", http.StatusNotFound, ``, func(err error) bool { return errors.Is(err, ErrNotFound) }},
		{"rate limited", http.StatusTooManyRequests, `{"error":"rate_limited"}`, func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.Code == "rate_limited"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := New(srv.URL, WithToken("t")).GetProfile(context.Background(), "x")
			require.Error(t, err)
			assert.True(t, tc.check(err), err.Error())
		})
	}
}

func TestClientFailsWithoutServer(t *testing.T) {
	c := New("http://127.0.0.1:1", WithToken("t"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.CurrentUser(ctx)
	assert.Error(t, err)
}
