package messenger

import (
	"context"
	"fmt"
)

// IdentityProvider resolves the authenticated caller. Implementations return
// ErrAuthenticationRequired when there is none.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (User, error)
}

// Store is the durable system of record for profiles, contacts and messages.
type Store interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	// SearchProfiles matches query as a case-insensitive substring of the
	// username, skipping excludeID.
	SearchProfiles(ctx context.Context, query, excludeID string) ([]Profile, error)
	// ListRelationships returns every relationship of ownerID, blocked ones
	// included, joined with the peer profile.
	ListRelationships(ctx context.Context, ownerID string) ([]Contact, error)
	UpsertRelationship(ctx context.Context, rel Relationship) error
	// Conversation returns the messages of the unordered pair {a, b} ordered
	// by created_at, then insertion order.
	Conversation(ctx context.Context, a, b string) ([]Message, error)
	// InsertMessage persists msg and returns the stored row. Inserting an id
	// that already exists returns the existing row.
	InsertMessage(ctx context.Context, msg Message) (Message, error)
}

// Filter selects row-insert events by equality on a single column.
type Filter struct {
	Table  string
	Event  string
	Column string
	Value  string
}

// ReceiverFilter is the only filter the event channel can express for a
// conversation: everything addressed to userID, regardless of sender.
func ReceiverFilter(userID string) Filter {
	return Filter{Table: "messages", Event: "insert", Column: "receiver_id", Value: userID}
}

func (f Filter) String() string {
	return fmt.Sprintf("%s:%s:%s=eq.%s", f.Table, f.Event, f.Column, f.Value)
}

// Subscription is a held event channel. Done is closed when the channel stops
// delivering, whether through Close or a transport failure.
type Subscription interface {
	Close() error
	Done() <-chan struct{}
}

// EventChannel pushes inserted rows matching a filter. Subscribe returns once
// the server has acknowledged the subscription.
type EventChannel interface {
	Subscribe(ctx context.Context, filter Filter, fn func(Message)) (Subscription, error)
}
