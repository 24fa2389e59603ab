package messenger

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

// Conversations loads message history for a peer pair. It is the baseline
// the live engine merges into.
type Conversations struct {
	store Store
}

func NewConversations(store Store) *Conversations {
	return &Conversations{store: store}
}

// LoadHistory returns the conversation {selfID, peerID} in ascending
// (created_at, seq) order. The result does not depend on which side asks.
func (c *Conversations) LoadHistory(ctx context.Context, selfID, peerID string) ([]Message, error) {
	if selfID == "" {
		return nil, ErrAuthenticationRequired
	}
	if peerID == "" {
		return nil, errors.WithStack(ErrNoActiveConversation)
	}
	rows, err := c.store.Conversation(ctx, selfID, peerID)
	if err != nil {
		return nil, classify("load history", err)
	}
	out := make([]Message, 0, len(rows))
	for _, m := range rows {
		if m.Between(selfID, peerID) {
			out = append(out, m)
		}
	}
	sortMessages(out)
	return out, nil
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}
