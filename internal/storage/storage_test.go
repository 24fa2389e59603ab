package storage

import (
	"context"
	"testing"
	"time"

	"github.com/mistakeknot/miochat/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationMessagesSymmetric(t *testing.T) {
	ctx := context.Background()
	st := NewInMemory()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, _, err := st.InsertMessage(ctx, core.Message{ID: "m2", SenderID: "b", ReceiverID: "a", Content: "two", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	_, _, err = st.InsertMessage(ctx, core.Message{ID: "m1", SenderID: "a", ReceiverID: "b", Content: "one", CreatedAt: base})
	require.NoError(t, err)
	_, _, err = st.InsertMessage(ctx, core.Message{ID: "m3", SenderID: "a", ReceiverID: "c", Content: "other", CreatedAt: base})
	require.NoError(t, err)

	ab, err := st.ConversationMessages(ctx, "a", "b", 0)
	require.NoError(t, err)
	ba, err := st.ConversationMessages(ctx, "b", "a", 0)
	require.NoError(t, err)
	require.Len(t, ab, 2)
	assert.Equal(t, "m1", ab[0].ID)
	assert.Equal(t, ab, ba)
}

func TestInsertMessageIdempotentByID(t *testing.T) {
	ctx := context.Background()
	st := NewInMemory()
	first, created, err := st.InsertMessage(ctx, core.Message{ID: "x", SenderID: "a", ReceiverID: "b", Content: "hi"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := st.InsertMessage(ctx, core.Message{ID: "x", SenderID: "a", ReceiverID: "b", Content: "hi"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again)

	msgs, err := st.ConversationMessages(ctx, "a", "b", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestUpsertContactSingleRow(t *testing.T) {
	ctx := context.Background()
	st := NewInMemory()
	_, err := st.CreateProfile(ctx, core.Profile{ID: "a", Username: "alice"})
	require.NoError(t, err)
	_, err = st.CreateProfile(ctx, core.Profile{ID: "b", Username: "bob"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = st.UpsertContact(ctx, core.Contact{OwnerID: "a", PeerID: "b", Status: core.StatusFriend})
		require.NoError(t, err)
	}
	contacts, err := st.ListContacts(ctx, "a")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "bob", contacts[0].Peer.Username)

	_, ok, err := st.ContactStatus(ctx, "b", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUsernameUniqueCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	st := NewInMemory()
	_, err := st.CreateProfile(ctx, core.Profile{ID: "a", Username: "alice"})
	require.NoError(t, err)
	_, err = st.CreateProfile(ctx, core.Profile{ID: "b", Username: "Alice"})
	assert.ErrorIs(t, err, core.ErrUsernameTaken)

	name := "ALICE"
	p, err := st.UpdateProfile(ctx, "a", ProfilePatch{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "ALICE", p.Username)

	_, err = st.CreateProfile(ctx, core.Profile{ID: "c", Username: "Ölaf"})
	require.NoError(t, err)
	_, err = st.CreateProfile(ctx, core.Profile{ID: "d", Username: "ölaf"})
	assert.ErrorIs(t, err, core.ErrUsernameTaken)
}
