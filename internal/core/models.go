package core

import (
	"strings"
	"time"
)

type EventType string

const (
	EventSubscribed     EventType = "subscribed"
	EventMessageCreated EventType = "message.created"
)

// ContactStatus is the owner's stance toward a peer. Relationships are
// directional: (a, b) and (b, a) are independent rows.
type ContactStatus string

const (
	StatusPending ContactStatus = "pending"
	StatusFriend  ContactStatus = "friend"
	StatusBlocked ContactStatus = "blocked"
)

func (s ContactStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFriend, StatusBlocked:
		return true
	}
	return false
}

type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url"`
	Email     string    `json:"email,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Public strips fields only the owner may see.
func (p Profile) Public() Profile {
	p.Email = ""
	return p
}

// Contact is one relationship row joined with the peer's profile.
type Contact struct {
	OwnerID   string        `json:"-"`
	PeerID    string        `json:"peer_id"`
	Status    ContactStatus `json:"status"`
	Peer      Profile       `json:"profile"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Seq        uint64    `json:"seq"`
}

// Between reports whether m belongs to the conversation {a, b}.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Event is a frame on the event channel.
type Event struct {
	Type       EventType `json:"type"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Message    *Message  `json:"message,omitempty"`
}

// FoldUsername is the key usernames are compared by, for uniqueness and
// search. It folds case across all of Unicode, not only ASCII.
func FoldUsername(s string) string {
	return strings.ToLower(s)
}

// MatchUsername is the case-insensitive substring match used by profile search.
func MatchUsername(username, query string) bool {
	return strings.Contains(FoldUsername(username), FoldUsername(query))
}
