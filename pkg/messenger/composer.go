package messenger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SendStatus distinguishes the three outcomes of a send.
type SendStatus int

const (
	SendSucceeded SendStatus = iota
	// SendRejected is terminal: retrying the same input cannot succeed.
	SendRejected
	// SendFailed kept the draft; Retry resubmits it.
	SendFailed
)

func (s SendStatus) String() string {
	switch s {
	case SendSucceeded:
		return "succeeded"
	case SendRejected:
		return "rejected"
	case SendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type SendResult struct {
	Status  SendStatus
	Message Message
	// DraftID names the kept draft when Status is SendFailed.
	DraftID string
	Err     error
}

// Draft is an outgoing message whose persistence failed.
type Draft struct {
	ID       string
	PeerID   string
	Content  string
	Err      error
	FailedAt time.Time
}

// Composer validates and persists outgoing messages, then appends them to
// the engine's view.
type Composer struct {
	selfID string
	store  Store
	engine *Engine
	newID  func() string
	now    func() time.Time
	log    *logrus.Entry

	mu     sync.Mutex
	failed map[string]Draft
	order  []string
}

func NewComposer(selfID string, store Store, engine *Engine) *Composer {
	return &Composer{
		selfID: selfID,
		store:  store,
		engine: engine,
		newID:  uuid.NewString,
		now:    time.Now,
		failed: make(map[string]Draft),
		log: logrus.WithFields(logrus.Fields{
			"component": "composer",
			"user_id":   selfID,
		}),
	}
}

// Send persists content for peerID. Whitespace-only content is rejected
// without touching the store. The message joins the view only once the
// store has confirmed it.
func (c *Composer) Send(ctx context.Context, peerID, content string) SendResult {
	if strings.TrimSpace(content) == "" {
		return SendResult{Status: SendRejected, Err: ErrEmptyContent}
	}
	if peerID == "" {
		return SendResult{Status: SendRejected, Err: errors.WithStack(ErrNoActiveConversation)}
	}
	return c.submit(ctx, Draft{ID: c.newID(), PeerID: peerID, Content: content})
}

// Retry resubmits a failed draft under its original id, so a retry after an
// ambiguous failure cannot store the message twice.
func (c *Composer) Retry(ctx context.Context, draftID string) SendResult {
	c.mu.Lock()
	d, ok := c.failed[draftID]
	c.mu.Unlock()
	if !ok {
		return SendResult{Status: SendRejected, Err: errors.Wrapf(ErrUnknownDraft, "draft %s", draftID)}
	}
	return c.submit(ctx, d)
}

// Failed lists kept drafts, oldest first.
func (c *Composer) Failed() []Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Draft, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.failed[id])
	}
	return out
}

// Discard drops a kept draft.
func (c *Composer) Discard(draftID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgetLocked(draftID)
}

func (c *Composer) submit(ctx context.Context, d Draft) SendResult {
	msg := Message{
		ID:         d.ID,
		SenderID:   c.selfID,
		ReceiverID: d.PeerID,
		Content:    d.Content,
	}
	stored, err := c.store.InsertMessage(ctx, msg)
	if err != nil {
		err = classify("send message", err)
		if IsValidation(err) || errors.Is(err, ErrPeerBlocked) || errors.Is(err, ErrAuthenticationRequired) {
			c.Discard(d.ID)
			return SendResult{Status: SendRejected, Err: err}
		}
		d.Err = err
		d.FailedAt = c.now()
		c.keep(d)
		c.log.WithFields(logrus.Fields{
			"peer_id":  d.PeerID,
			"draft_id": d.ID,
			"error":    err.Error(),
		}).Warn("Send failed, draft kept for retry")
		return SendResult{Status: SendFailed, DraftID: d.ID, Err: err}
	}
	c.Discard(d.ID)
	if stored.ID == "" {
		stored.ID = d.ID
	}
	if c.engine != nil {
		c.engine.appendLocal(stored)
	}
	return SendResult{Status: SendSucceeded, Message: stored}
}

func (c *Composer) keep(d Draft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.failed[d.ID]; !ok {
		c.order = append(c.order, d.ID)
	}
	c.failed[d.ID] = d
}

func (c *Composer) forgetLocked(id string) {
	if _, ok := c.failed[id]; !ok {
		return
	}
	delete(c.failed, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
