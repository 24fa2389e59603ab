package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mistakeknot/miochat/internal/auth"
	"github.com/mistakeknot/miochat/internal/core"
	"github.com/mistakeknot/miochat/internal/metrics"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

// Hub fans message.created events out to the receiver's open channels.
// Every channel is implicitly filtered by receiver_id = its user.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]map[*client]struct{}
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// client queues frames for one connection. The subscribed acknowledgment is
// queued before the client becomes visible to Broadcast, so it is always the
// first frame.
type client struct {
	conn   *websocket.Conn
	userID string
	send   chan core.Event
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*client]struct{}),
		log:   logrus.WithField("component", "ws"),
	}
}

func (h *Hub) WithMetrics(m *metrics.Metrics) *Hub {
	h.metrics = m
	return h
}

// Handler serves GET /ws/messages?receiver_id=<self>. The filter may only
// name the caller.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, ok := auth.FromContext(r.Context())
		if !ok || info.UserID == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		receiver := strings.TrimSpace(r.URL.Query().Get("receiver_id"))
		if receiver == "" {
			receiver = info.UserID
		}
		if receiver != info.UserID {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		c := &client{conn: conn, userID: receiver, send: make(chan core.Event, sendBuffer)}
		c.send <- core.Event{Type: core.EventSubscribed, ReceiverID: receiver}
		h.add(c)
		defer h.remove(c)

		h.log.WithField("user_id", receiver).Debug("Subscriber connected")
		// Inbound frames are ignored; CloseRead cancels ctx when the peer goes away.
		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-c.send:
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(wctx, conn, ev)
				cancel()
				if err != nil {
					h.log.WithFields(logrus.Fields{
						"user_id": receiver,
						"error":   err.Error(),
					}).Debug("Subscriber write failed")
					return
				}
				if ev.Type == core.EventMessageCreated && h.metrics != nil {
					h.metrics.EventsDelivered.Inc()
				}
			}
		}
	}
}

// Broadcast queues ev for every channel of userID. A subscriber whose queue
// is full is disconnected rather than allowed to stall the sender.
func (h *Hub) Broadcast(userID string, ev core.Event) {
	for _, c := range h.snapshot(userID) {
		select {
		case c.send <- ev:
		default:
			h.log.WithField("user_id", userID).Warn("Subscriber too slow, closing channel")
			h.remove(c)
			go c.conn.Close(websocket.StatusPolicyViolation, "slow consumer")
		}
	}
}

// Subscribers is the number of open channels for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) snapshot(userID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perUser, ok := h.conns[c.userID]
	if !ok {
		perUser = make(map[*client]struct{})
		h.conns[c.userID] = perUser
	}
	perUser[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}
}

func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		perUser, ok := h.conns[c.userID]
		if !ok {
			return
		}
		delete(perUser, c)
		if len(perUser) == 0 {
			delete(h.conns, c.userID)
		}
		if h.metrics != nil {
			h.metrics.Subscribers.Dec()
		}
	})
}
