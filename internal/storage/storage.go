package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mistakeknot/miochat/internal/core"
)

// ProfilePatch carries the owner-mutable profile fields. Nil means unchanged.
type ProfilePatch struct {
	Username  *string
	AvatarURL *string
}

// DefaultSearchLimit caps profile search results when the caller passes 0.
const DefaultSearchLimit = 50

type Store interface {
	CreateProfile(ctx context.Context, p core.Profile) (core.Profile, error)
	GetProfile(ctx context.Context, id string) (core.Profile, error)
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (core.Profile, error)
	SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]core.Profile, error)

	ListContacts(ctx context.Context, ownerID string) ([]core.Contact, error)
	ContactStatus(ctx context.Context, ownerID, peerID string) (core.ContactStatus, bool, error)
	UpsertContact(ctx context.Context, c core.Contact) (core.Contact, error)

	ConversationMessages(ctx context.Context, a, b string, limit int) ([]core.Message, error)
	// InsertMessage stores msg unless a message with the same id exists, in
	// which case the stored row is returned and created is false.
	InsertMessage(ctx context.Context, msg core.Message) (stored core.Message, created bool, err error)
}

// InMemory is a minimal in-memory store for tests.
type InMemory struct {
	mu       sync.Mutex
	seq      uint64
	profiles map[string]core.Profile
	contacts map[[2]string]core.Contact
	messages []core.Message
	byID     map[string]int
	now      func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		profiles: make(map[string]core.Profile),
		contacts: make(map[[2]string]core.Contact),
		byID:     make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *InMemory) CreateProfile(_ context.Context, p core.Profile) (core.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := m.profiles[p.ID]; ok {
		return core.Profile{}, fmt.Errorf("profile %s exists", p.ID)
	}
	if m.usernameTakenLocked(p.Username, p.ID) {
		return core.Profile{}, core.ErrUsernameTaken
	}
	p.UpdatedAt = m.now()
	m.profiles[p.ID] = p
	return p, nil
}

func (m *InMemory) GetProfile(_ context.Context, id string) (core.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return core.Profile{}, core.ErrNotFound
	}
	return p, nil
}

func (m *InMemory) UpdateProfile(_ context.Context, id string, patch ProfilePatch) (core.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return core.Profile{}, core.ErrNotFound
	}
	if patch.Username != nil {
		if m.usernameTakenLocked(*patch.Username, id) {
			return core.Profile{}, core.ErrUsernameTaken
		}
		p.Username = *patch.Username
	}
	if patch.AvatarURL != nil {
		p.AvatarURL = *patch.AvatarURL
	}
	p.UpdatedAt = m.now()
	m.profiles[id] = p
	return p, nil
}

func (m *InMemory) usernameTakenLocked(username, selfID string) bool {
	if username == "" {
		return false
	}
	for id, p := range m.profiles {
		if id != selfID && core.FoldUsername(p.Username) == core.FoldUsername(username) {
			return true
		}
	}
	return false
}

func (m *InMemory) SearchProfiles(_ context.Context, query, excludeID string, limit int) ([]core.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	out := make([]core.Profile, 0)
	for _, p := range m.profiles {
		if p.ID == excludeID || !core.MatchUsername(p.Username, query) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return core.FoldUsername(out[i].Username) < core.FoldUsername(out[j].Username)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemory) ListContacts(_ context.Context, ownerID string) ([]core.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Contact, 0)
	for key, c := range m.contacts {
		if key[0] != ownerID {
			continue
		}
		c.Peer = m.profiles[c.PeerID]
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer.Username < out[j].Peer.Username })
	return out, nil
}

func (m *InMemory) ContactStatus(_ context.Context, ownerID, peerID string) (core.ContactStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[[2]string{ownerID, peerID}]
	return c.Status, ok, nil
}

func (m *InMemory) UpsertContact(_ context.Context, c core.Contact) (core.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.profiles[c.PeerID]
	if !ok {
		return core.Contact{}, core.ErrNotFound
	}
	c.UpdatedAt = m.now()
	m.contacts[[2]string{c.OwnerID, c.PeerID}] = c
	c.Peer = peer
	return c, nil
}

func (m *InMemory) ConversationMessages(_ context.Context, a, b string, limit int) ([]core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Message, 0)
	for _, msg := range m.messages {
		if msg.Between(a, b) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *InMemory) InsertMessage(_ context.Context, msg core.Message) (core.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if i, ok := m.byID[msg.ID]; ok {
		return m.messages[i], false, nil
	}
	m.seq++
	msg.Seq = m.seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.byID[msg.ID] = len(m.messages)
	m.messages = append(m.messages, msg)
	return msg, true, nil
}
