package messenger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type staticIdentity struct {
	user User
	err  error
}

func (s staticIdentity) CurrentUser(context.Context) (User, error) {
	return s.user, s.err
}

// memStore is a Store that publishes inserts on an attached fakeChannel.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	rels     map[[2]string]ContactStatus
	msgs     []Message
	seq      uint64
	clock    time.Time
	calls    map[string]int
	channel  *fakeChannel

	suppressBlocked bool
	insertErr       error
	searchErr       error
	historyErr      error
	beforeHistory   func()
}

func newMemStore(profiles ...Profile) *memStore {
	s := &memStore{
		profiles: make(map[string]Profile),
		rels:     make(map[[2]string]ContactStatus),
		calls:    make(map[string]int),
		clock:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *memStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) GetProfile(_ context.Context, id string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get_profile"]++
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("profile %s not found", id)
	}
	return p, nil
}

func (s *memStore) SearchProfiles(_ context.Context, query, excludeID string) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["search"]++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	var out []Profile
	for _, p := range s.profiles {
		if p.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(p.Username), strings.ToLower(query)) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *memStore) ListRelationships(_ context.Context, ownerID string) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list_relationships"]++
	var out []Contact
	for k, status := range s.rels {
		if k[0] != ownerID {
			continue
		}
		out = append(out, Contact{Status: status, Profile: s.profiles[k[1]]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile.Username < out[j].Profile.Username })
	return out, nil
}

func (s *memStore) UpsertRelationship(_ context.Context, rel Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["upsert_relationship"]++
	s.rels[[2]string{rel.OwnerID, rel.PeerID}] = rel.Status
	return nil
}

func (s *memStore) relationshipRows(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.rels {
		if k[0] == ownerID {
			n++
		}
	}
	return n
}

func (s *memStore) Conversation(_ context.Context, a, b string) ([]Message, error) {
	if hook := s.beforeHistory; hook != nil {
		s.beforeHistory = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["conversation"]++
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	var out []Message
	for _, m := range s.msgs {
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) InsertMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	s.calls["insert"]++
	if s.insertErr != nil {
		err := s.insertErr
		s.mu.Unlock()
		return Message{}, err
	}
	if s.suppressBlocked && s.rels[[2]string{msg.ReceiverID, msg.SenderID}] == StatusBlocked {
		s.mu.Unlock()
		return Message{}, ErrPeerBlocked
	}
	for _, m := range s.msgs {
		if m.ID == msg.ID {
			s.mu.Unlock()
			return m, nil
		}
	}
	s.seq++
	s.clock = s.clock.Add(time.Millisecond)
	msg.Seq = s.seq
	msg.CreatedAt = s.clock
	s.msgs = append(s.msgs, msg)
	ch := s.channel
	s.mu.Unlock()
	if ch != nil {
		ch.publish(msg)
	}
	return msg, nil
}

// rowsWithID counts stored copies of a message id.
func (s *memStore) rowsWithID(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.ID == id {
			n++
		}
	}
	return n
}

type fakeChannel struct {
	mu      sync.Mutex
	subs    map[*fakeSub]struct{}
	opened  int
	failErr error
	hang    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[*fakeSub]struct{})}
}

func (c *fakeChannel) Subscribe(ctx context.Context, f Filter, fn func(Message)) (Subscription, error) {
	c.mu.Lock()
	hang, failErr := c.hang, c.failErr
	c.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failErr != nil {
		return nil, failErr
	}
	if f.Column != "receiver_id" || f.Table != "messages" {
		return nil, errors.New("unsupported filter")
	}
	sub := &fakeSub{ch: c, filter: f, fn: fn, done: make(chan struct{})}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.opened++
	c.mu.Unlock()
	return sub, nil
}

func (c *fakeChannel) publish(m Message) {
	c.mu.Lock()
	var targets []*fakeSub
	for s := range c.subs {
		if s.filter.Value == m.ReceiverID {
			targets = append(targets, s)
		}
	}
	c.mu.Unlock()
	for _, s := range targets {
		s.fn(m)
	}
}

// held is the number of subscriptions not yet released.
func (c *fakeChannel) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *fakeChannel) any() *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		return s
	}
	return nil
}

type fakeSub struct {
	ch     *fakeChannel
	filter Filter
	fn     func(Message)
	once   sync.Once
	done   chan struct{}
}

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.ch.mu.Lock()
		delete(s.ch.subs, s)
		s.ch.mu.Unlock()
		close(s.done)
	})
	return nil
}

// drop simulates the transport closing the channel.
func (s *fakeSub) drop() { _ = s.Close() }

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

var (
	alice = Profile{ID: "u-alice", Username: "alice", Email: "alice@example.com"}
	bob   = Profile{ID: "u-bob", Username: "bob", Email: "bob@example.com"}
	bobby = Profile{ID: "u-bobby", Username: "BobbyTables", Email: "bobby@example.com"}
	carol = Profile{ID: "u-carol", Username: "carol", Email: "carol@example.com"}
)
