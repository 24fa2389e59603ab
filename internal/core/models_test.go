package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWireShape(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := Event{Type: EventMessageCreated, Message: &Message{ID: "m1", SenderID: "a", ReceiverID: "b", Content: "hi", CreatedAt: at, Seq: 7}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message.created","message":{"id":"m1","sender_id":"a","receiver_id":"b","content":"hi","created_at":"2026-01-02T03:04:05Z","seq":7}}`, string(data))

	data, err = json.Marshal(Event{Type: EventSubscribed, ReceiverID: "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribed","receiver_id":"b"}`, string(data))
}

func TestContactStatusValid(t *testing.T) {
	for _, s := range []ContactStatus{StatusPending, StatusFriend, StatusBlocked} {
		assert.True(t, s.Valid())
	}
	assert.False(t, ContactStatus("Friend").Valid())
	assert.False(t, ContactStatus("").Valid())
}

func TestProfilePublicHidesEmail(t *testing.T) {
	p := Profile{ID: "a", Username: "alice", Email: "alice@example.com"}
	assert.Empty(t, p.Public().Email)
	assert.Equal(t, "alice", p.Public().Username)
}
