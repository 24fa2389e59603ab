package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/mistakeknot/miochat/pkg/messenger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	eventSubscribed     = "subscribed"
	eventMessageCreated = "message.created"
)

type wsEvent struct {
	Type       string             `json:"type"`
	ReceiverID string             `json:"receiver_id,omitempty"`
	Message    *messenger.Message `json:"message,omitempty"`
}

// WSClient opens /ws/messages channels. Each Subscribe dials its own
// connection; reconnecting is left to the caller, which sees Done close.
type WSClient struct {
	baseURL string
	token   string
	log     *logrus.Entry
}

type WSOption func(*WSClient)

func WithWSToken(token string) WSOption {
	return func(c *WSClient) {
		c.token = strings.TrimSpace(token)
	}
}

func NewWSClient(baseURL string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logrus.WithField("component", "ws_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe dials the channel for filter and returns after the server's
// subscribed acknowledgment. Only the receiver filter is supported.
func (c *WSClient) Subscribe(ctx context.Context, filter messenger.Filter, fn func(messenger.Message)) (messenger.Subscription, error) {
	if filter.Table != "messages" || filter.Column != "receiver_id" || filter.Value == "" {
		return nil, errors.Errorf("unsupported filter %s", filter)
	}
	wsURL, err := c.buildWSURL(filter.Value)
	if err != nil {
		return nil, errors.Wrap(err, "build websocket url")
	}
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.WithStack(messenger.ErrAuthenticationRequired)
		}
		return nil, errors.Wrap(err, "websocket dial")
	}

	var ack wsEvent
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		conn.Close(websocket.StatusGoingAway, "no acknowledgment")
		return nil, errors.Wrap(err, "await subscribed")
	}
	if ack.Type != eventSubscribed {
		conn.Close(websocket.StatusProtocolError, "unexpected first frame")
		return nil, errors.Errorf("expected %q frame, got %q", eventSubscribed, ack.Type)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.readLoop(readCtx, fn, c.log.WithField("filter", filter.String()))
	return sub, nil
}

func (c *WSClient) buildWSURL(receiverID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/messages"
	q := u.Query()
	q.Set("receiver_id", receiverID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type subscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) readLoop(ctx context.Context, fn func(messenger.Message), log *logrus.Entry) {
	defer close(s.done)
	for {
		var ev wsEvent
		if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
			if ctx.Err() == nil {
				log.WithField("error", err.Error()).Debug("Event channel read ended")
			}
			return
		}
		if ev.Type != eventMessageCreated || ev.Message == nil {
			continue
		}
		fn(*ev.Message)
	}
}

// Close unsubscribes and waits for the read loop to stop. It is safe to call
// more than once.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		s.cancel()
	})
	<-s.done
	return err
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}
