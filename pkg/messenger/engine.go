package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle of the engine's single held channel.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateActive
	StateSubscriptionFailed
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateSubscriptionFailed:
		return "subscription_failed"
	default:
		return "unknown"
	}
}

// DefaultSubscribeTimeout bounds how long Open waits for the channel
// acknowledgment.
const DefaultSubscribeTimeout = 10 * time.Second

// ChangeFunc receives a snapshot of the active conversation after every
// change. It must not call Open, Retry or Close.
type ChangeFunc func(peerID string, msgs []Message)

// Engine reconciles the pushed event stream with the materialized view of
// one conversation at a time.
//
// The server-side filter is receiver_id = self, so every inbound message of
// the user crosses the wire while a conversation is open; the engine drops
// the ones from other senders.
type Engine struct {
	selfID  string
	channel EventChannel
	history *Conversations
	timeout time.Duration
	onDrop  func(Message)
	log     *logrus.Entry

	mu       sync.Mutex
	state    State
	peerID   string
	gen      uint64
	sub      Subscription
	view     *view
	baseline bool
	pending  []Message
	version  uint64
	lastErr  error

	emitMu   sync.Mutex
	emitted  uint64
	onChange ChangeFunc
}

type EngineOption func(*Engine)

// WithSubscribeTimeout overrides DefaultSubscribeTimeout.
func WithSubscribeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithChangeFunc registers the view observer.
func WithChangeFunc(fn ChangeFunc) EngineOption {
	return func(e *Engine) {
		e.onChange = fn
	}
}

// WithDroppedFunc observes events discarded because they belong to another
// conversation.
func WithDroppedFunc(fn func(Message)) EngineOption {
	return func(e *Engine) {
		e.onDrop = fn
	}
}

func NewEngine(selfID string, channel EventChannel, history *Conversations, opts ...EngineOption) *Engine {
	e := &Engine{
		selfID:  selfID,
		channel: channel,
		history: history,
		timeout: DefaultSubscribeTimeout,
		view:    newView(),
		log: logrus.WithFields(logrus.Fields{
			"component": "sync",
			"user_id":   selfID,
		}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open makes peerID the active conversation. Any previously held channel is
// released first. The new channel is subscribed before history is loaded and
// events arriving in between are buffered, then merged after the baseline.
func (e *Engine) Open(ctx context.Context, peerID string) error {
	if peerID == "" {
		return errors.WithStack(ErrNoActiveConversation)
	}

	e.mu.Lock()
	prev := e.detachLocked()
	e.gen++
	gen := e.gen
	e.peerID = peerID
	e.state = StateSubscribing
	e.view = newView()
	e.baseline = false
	e.pending = nil
	e.lastErr = nil
	snap, version := e.snapshotLocked()
	e.mu.Unlock()

	e.release(prev)
	e.emit(peerID, snap, version)

	filter := ReceiverFilter(e.selfID)
	subCtx, cancel := context.WithTimeout(ctx, e.timeout)
	sub, err := e.channel.Subscribe(subCtx, filter, func(m Message) {
		e.deliver(gen, m)
	})
	cancel()
	if err != nil {
		failure := errors.Wrapf(ErrSubscriptionFailed, "subscribe %s: %v", filter, err)
		e.fail(gen, failure)
		e.log.WithFields(logrus.Fields{
			"peer_id": peerID,
			"filter":  filter.String(),
			"error":   err.Error(),
		}).Warn("Subscription failed")
		return failure
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		e.release(sub)
		return errors.Wrap(ErrSubscriptionFailed, "conversation switched while subscribing")
	}
	e.sub = sub
	e.state = StateActive
	e.mu.Unlock()
	go e.watch(gen, sub)

	e.log.WithFields(logrus.Fields{
		"peer_id": peerID,
		"filter":  filter.String(),
	}).Debug("Subscription active, loading baseline")

	msgs, err := e.history.LoadHistory(ctx, e.selfID, peerID)
	if err != nil {
		e.mu.Lock()
		var held Subscription
		if e.gen == gen {
			held = e.sub
			e.sub = nil
			e.gen++
			e.state = StateSubscriptionFailed
			e.lastErr = err
		}
		e.mu.Unlock()
		e.release(held)
		return err
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return errors.Wrap(ErrSubscriptionFailed, "conversation switched while loading history")
	}
	e.view.reset(msgs)
	replayed := 0
	for _, m := range e.pending {
		if e.view.add(m) {
			replayed++
		}
	}
	e.pending = nil
	e.baseline = true
	snap, version = e.snapshotLocked()
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"peer_id":  peerID,
		"history":  len(msgs),
		"replayed": replayed,
	}).Debug("Conversation baseline established")
	e.emit(peerID, snap, version)
	return nil
}

// Retry re-opens the current conversation, typically after
// StateSubscriptionFailed.
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()
	peerID := e.peerID
	e.mu.Unlock()
	if peerID == "" {
		return errors.WithStack(ErrNoActiveConversation)
	}
	return e.Open(ctx, peerID)
}

// Close releases the held channel and forgets the active conversation.
func (e *Engine) Close() error {
	e.mu.Lock()
	prev := e.detachLocked()
	e.gen++
	e.peerID = ""
	e.view = newView()
	e.pending = nil
	e.baseline = false
	e.mu.Unlock()
	if prev == nil {
		return nil
	}
	return prev.Close()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the failure that put the engine in StateSubscriptionFailed.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) PeerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerID
}

// Messages returns a copy of the ordered view.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view.snapshot()
}

// appendLocal adds a message the session itself just persisted. It reports
// whether the message became part of the view.
func (e *Engine) appendLocal(m Message) bool {
	e.mu.Lock()
	if e.peerID == "" || !m.Between(e.selfID, e.peerID) {
		e.mu.Unlock()
		return false
	}
	if !e.baseline {
		e.pending = append(e.pending, m)
		e.mu.Unlock()
		return true
	}
	if !e.view.add(m) {
		e.mu.Unlock()
		return false
	}
	peerID := e.peerID
	snap, version := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(peerID, snap, version)
	return true
}

func (e *Engine) deliver(gen uint64, m Message) {
	e.mu.Lock()
	// The channel may push before Open has recorded the acknowledgment, so
	// Subscribing counts as live for buffering purposes.
	if gen != e.gen || (e.state != StateActive && e.state != StateSubscribing) {
		e.mu.Unlock()
		return
	}
	if m.SenderID != e.peerID || m.ReceiverID != e.selfID {
		onDrop := e.onDrop
		e.mu.Unlock()
		e.log.WithFields(logrus.Fields{
			"sender_id":  m.SenderID,
			"message_id": m.ID,
		}).Debug("Dropping event outside active conversation")
		if onDrop != nil {
			onDrop(m)
		}
		return
	}
	if !e.baseline {
		e.pending = append(e.pending, m)
		e.mu.Unlock()
		return
	}
	if !e.view.add(m) {
		e.mu.Unlock()
		return
	}
	peerID := e.peerID
	snap, version := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(peerID, snap, version)
}

// watch moves the engine to StateSubscriptionFailed when the channel dies
// without being released.
func (e *Engine) watch(gen uint64, sub Subscription) {
	<-sub.Done()
	e.mu.Lock()
	if e.gen != gen || e.sub != sub {
		e.mu.Unlock()
		return
	}
	e.sub = nil
	e.gen++
	e.state = StateSubscriptionFailed
	e.lastErr = errors.Wrap(ErrSubscriptionFailed, "channel closed by transport")
	peerID := e.peerID
	e.mu.Unlock()
	e.log.WithField("peer_id", peerID).Warn("Event channel dropped")
}

func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	e.state = StateSubscriptionFailed
	e.lastErr = err
}

func (e *Engine) detachLocked() Subscription {
	prev := e.sub
	e.sub = nil
	e.state = StateUnsubscribed
	return prev
}

func (e *Engine) release(sub Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		e.log.WithField("error", err.Error()).Debug("Releasing channel")
	}
}

func (e *Engine) snapshotLocked() ([]Message, uint64) {
	e.version++
	return e.view.snapshot(), e.version
}

// emit hands snapshots to the observer in version order, skipping ones that
// a newer emission already superseded.
func (e *Engine) emit(peerID string, snap []Message, version uint64) {
	if e.onChange == nil {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if version <= e.emitted {
		return
	}
	e.emitted = version
	e.onChange(peerID, snap)
}
