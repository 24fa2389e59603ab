package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Session is the per-login context: the current user, the contact list, and
// the single active conversation with its engine and composer. Create it on
// login and Close it on logout.
type Session struct {
	user     User
	profile  Profile
	dir      *Directory
	convs    *Conversations
	engine   *Engine
	composer *Composer
	log      *logrus.Entry

	mu       sync.Mutex
	contacts []Contact
	results  []Profile
	closed   bool
}

type sessionConfig struct {
	timeout  time.Duration
	onChange ChangeFunc
	onDrop   func(Message)
}

type Option func(*sessionConfig)

func WithTimeout(d time.Duration) Option {
	return func(c *sessionConfig) {
		c.timeout = d
	}
}

func WithOnChange(fn ChangeFunc) Option {
	return func(c *sessionConfig) {
		c.onChange = fn
	}
}

// WithOnDropped observes inbound messages from peers other than the active
// one. They are not queued anywhere else.
func WithOnDropped(fn func(Message)) Option {
	return func(c *sessionConfig) {
		c.onDrop = fn
	}
}

// NewSession resolves the current user and loads the own profile and the
// contact list.
func NewSession(ctx context.Context, identity IdentityProvider, store Store, channel EventChannel, opts ...Option) (*Session, error) {
	cfg := sessionConfig{timeout: DefaultSubscribeTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	user, err := identity.CurrentUser(ctx)
	if err != nil {
		return nil, classify("current user", err)
	}
	if user.ID == "" {
		return nil, ErrAuthenticationRequired
	}
	profile, err := store.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, classify("load profile", err)
	}
	if profile.Email == "" {
		profile.Email = user.Email
	}

	convs := NewConversations(store)
	engine := NewEngine(user.ID, channel, convs,
		WithSubscribeTimeout(cfg.timeout),
		WithChangeFunc(cfg.onChange),
		WithDroppedFunc(cfg.onDrop),
	)
	s := &Session{
		user:     user,
		profile:  profile,
		dir:      NewDirectory(store),
		convs:    convs,
		engine:   engine,
		composer: NewComposer(user.ID, store, engine),
		log: logrus.WithFields(logrus.Fields{
			"component": "session",
			"user_id":   user.ID,
		}),
	}
	if _, err := s.RefreshContacts(ctx); err != nil {
		return nil, err
	}
	s.log.WithField("username", profile.Username).Info("Session started")
	return s, nil
}

func (s *Session) User() User       { return s.user }
func (s *Session) Profile() Profile { return s.profile }

// Search looks up other users and remembers the results until the next
// relationship change.
func (s *Session) Search(ctx context.Context, query string) ([]Profile, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	found, err := s.dir.Search(ctx, query, s.user.ID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.results = found
	s.mu.Unlock()
	return found, nil
}

// Lookup fetches one profile by id.
func (s *Session) Lookup(ctx context.Context, id string) (Profile, error) {
	if err := s.checkOpen(); err != nil {
		return Profile{}, err
	}
	return s.dir.Profile(ctx, id)
}

func (s *Session) SearchResults() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Profile(nil), s.results...)
}

// Contacts returns the cached contact list.
func (s *Session) Contacts() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Contact(nil), s.contacts...)
}

// RefreshContacts rebuilds the contact list from the store.
func (s *Session) RefreshContacts(ctx context.Context) ([]Contact, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	contacts, err := s.dir.ListContacts(ctx, s.user.ID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.contacts = contacts
	s.mu.Unlock()
	return append([]Contact(nil), contacts...), nil
}

// SetRelationship records the user's stance toward peerID and rebuilds the
// contact list.
func (s *Session) SetRelationship(ctx context.Context, peerID string, status ContactStatus) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.dir.UpsertRelationship(ctx, s.user.ID, peerID, status); err != nil {
		return err
	}
	s.mu.Lock()
	s.results = nil
	s.mu.Unlock()
	_, err := s.RefreshContacts(ctx)
	return err
}

func (s *Session) AddFriend(ctx context.Context, peerID string) error {
	return s.SetRelationship(ctx, peerID, StatusFriend)
}

func (s *Session) Block(ctx context.Context, peerID string) error {
	return s.SetRelationship(ctx, peerID, StatusBlocked)
}

// Select makes peerID the active conversation.
func (s *Session) Select(ctx context.Context, peerID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.engine.Open(ctx, peerID)
}

// Resubscribe retries the active conversation after a channel failure.
func (s *Session) Resubscribe(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.engine.Retry(ctx)
}

// Active returns the peer of the active conversation, or "".
func (s *Session) Active() string {
	return s.engine.PeerID()
}

func (s *Session) State() State {
	return s.engine.State()
}

func (s *Session) Messages() []Message {
	return s.engine.Messages()
}

// History loads a conversation without making it active.
func (s *Session) History(ctx context.Context, peerID string) ([]Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.convs.LoadHistory(ctx, s.user.ID, peerID)
}

// Send sends content to the active peer.
func (s *Session) Send(ctx context.Context, content string) SendResult {
	if err := s.checkOpen(); err != nil {
		return SendResult{Status: SendRejected, Err: err}
	}
	peerID := s.engine.PeerID()
	if peerID == "" {
		return SendResult{Status: SendRejected, Err: errors.WithStack(ErrNoActiveConversation)}
	}
	return s.composer.Send(ctx, peerID, content)
}

func (s *Session) RetrySend(ctx context.Context, draftID string) SendResult {
	if err := s.checkOpen(); err != nil {
		return SendResult{Status: SendRejected, DraftID: draftID, Err: err}
	}
	return s.composer.Retry(ctx, draftID)
}

// FailedSends and DiscardSend touch only local drafts and stay usable after
// Close, so unsent content can still be shown or dropped.
func (s *Session) FailedSends() []Draft {
	return s.composer.Failed()
}

func (s *Session) DiscardSend(draftID string) {
	s.composer.Discard(draftID)
}

// Close releases the event channel. The session cannot be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.log.Info("Session closed")
	return s.engine.Close()
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrap(ErrAuthenticationRequired, "session closed")
	}
	return nil
}
