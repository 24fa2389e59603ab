package messenger

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ContactStatus is the owner's stance toward a peer.
type ContactStatus string

const (
	StatusPending ContactStatus = "pending"
	StatusFriend  ContactStatus = "friend"
	StatusBlocked ContactStatus = "blocked"
)

// Valid reports whether s is one of the fixed statuses.
func (s ContactStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFriend, StatusBlocked:
		return true
	default:
		return false
	}
}

// ParseContactStatus normalizes raw and rejects values outside the enumeration.
func ParseContactStatus(raw string) (ContactStatus, error) {
	s := ContactStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", errors.Wrapf(ErrInvalidStatus, "status %q", raw)
	}
	return s, nil
}

// User is what the identity provider knows about the caller.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Contact is one of the owner's relationships joined with the peer profile.
type Contact struct {
	Status  ContactStatus `json:"status"`
	Profile Profile       `json:"profile"`
}

// Relationship is the directional (owner, peer) row of the contacts table.
type Relationship struct {
	OwnerID string        `json:"owner_id"`
	PeerID  string        `json:"peer_id"`
	Status  ContactStatus `json:"status"`
}

// Message is immutable once the store has assigned CreatedAt and Seq.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Seq        uint64    `json:"seq,omitempty"`
}

// Between reports whether m belongs to the conversation {a, b}.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// key identifies m for deduplication. Rows without a surrogate id fall back
// to the sender/receiver/timestamp tuple.
func (m Message) key() string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return fmt.Sprintf("tuple:%s|%s|%d|%s", m.SenderID, m.ReceiverID, m.CreatedAt.UnixNano(), m.Content)
}
