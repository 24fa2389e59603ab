// Package client talks to a MioChat server. Client implements the identity
// provider and durable store of pkg/messenger over the REST API; WSClient
// implements its event channel over WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mistakeknot/miochat/pkg/messenger"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when the server has no such profile.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response that has no messenger equivalent.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   string

	mu   sync.Mutex
	self string
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) {
		c.Token = strings.TrimSpace(token)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type meResponse struct {
	ID      string            `json:"id"`
	Email   string            `json:"email"`
	Profile messenger.Profile `json:"profile"`
}

type contactResponse struct {
	PeerID  string                  `json:"peer_id"`
	Status  messenger.ContactStatus `json:"status"`
	Profile messenger.Profile       `json:"profile"`
}

// CurrentUser resolves the token. A missing or unknown token yields
// messenger.ErrAuthenticationRequired.
func (c *Client) CurrentUser(ctx context.Context) (messenger.User, error) {
	if c.Token == "" {
		return messenger.User{}, errors.WithStack(messenger.ErrAuthenticationRequired)
	}
	var me meResponse
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &me); err != nil {
		return messenger.User{}, err
	}
	c.mu.Lock()
	c.self = me.ID
	c.mu.Unlock()
	return messenger.User{ID: me.ID, Email: me.Email}, nil
}

func (c *Client) GetProfile(ctx context.Context, id string) (messenger.Profile, error) {
	var p messenger.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(id), nil, &p); err != nil {
		return messenger.Profile{}, err
	}
	return p, nil
}

// UpdateProfile changes the caller's username and/or avatar reference. Nil
// fields are left alone.
func (c *Client) UpdateProfile(ctx context.Context, username, avatarURL *string) (messenger.Profile, error) {
	body := map[string]*string{}
	if username != nil {
		body["username"] = username
	}
	if avatarURL != nil {
		body["avatar_url"] = avatarURL
	}
	var p messenger.Profile
	if err := c.do(ctx, http.MethodPatch, "/api/me", body, &p); err != nil {
		return messenger.Profile{}, err
	}
	return p, nil
}

// SearchProfiles queries the server, which always leaves out the caller.
// excludeID is applied again here in case it names someone else.
func (c *Client) SearchProfiles(ctx context.Context, query, excludeID string) ([]messenger.Profile, error) {
	var found []messenger.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles?q="+url.QueryEscape(query), nil, &found); err != nil {
		return nil, err
	}
	out := found[:0]
	for _, p := range found {
		if p.ID != excludeID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListRelationships returns the caller's contacts. The server only exposes
// the caller's own rows, so ownerID must be the current user.
func (c *Client) ListRelationships(ctx context.Context, ownerID string) ([]messenger.Contact, error) {
	if err := c.checkSelf(ownerID); err != nil {
		return nil, err
	}
	var rows []contactResponse
	if err := c.do(ctx, http.MethodGet, "/api/contacts", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]messenger.Contact, 0, len(rows))
	for _, row := range rows {
		p := row.Profile
		if p.ID == "" {
			p.ID = row.PeerID
		}
		out = append(out, messenger.Contact{Status: row.Status, Profile: p})
	}
	return out, nil
}

func (c *Client) UpsertRelationship(ctx context.Context, rel messenger.Relationship) error {
	if err := c.checkSelf(rel.OwnerID); err != nil {
		return err
	}
	body := map[string]string{"status": string(rel.Status)}
	return c.do(ctx, http.MethodPut, "/api/contacts/"+url.PathEscape(rel.PeerID), body, nil)
}

// Conversation fetches {a, b} from the caller's side; one of them must be
// the current user.
func (c *Client) Conversation(ctx context.Context, a, b string) ([]messenger.Message, error) {
	self := c.selfID()
	peer := b
	switch self {
	case a:
	case b:
		peer = a
	default:
		return nil, errors.Errorf("conversation %s/%s does not involve the current user", a, b)
	}
	var msgs []messenger.Message
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(peer), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// InsertMessage posts msg. The server assigns sender, created_at and seq;
// resending the same id returns the stored row.
func (c *Client) InsertMessage(ctx context.Context, msg messenger.Message) (messenger.Message, error) {
	if err := c.checkSelf(msg.SenderID); err != nil {
		return messenger.Message{}, err
	}
	body := map[string]string{
		"id":          msg.ID,
		"receiver_id": msg.ReceiverID,
		"content":     msg.Content,
	}
	var stored messenger.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, &stored); err != nil {
		return messenger.Message{}, err
	}
	return stored, nil
}

func (c *Client) selfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) checkSelf(id string) error {
	self := c.selfID()
	if self == "" {
		return errors.Wrap(messenger.ErrAuthenticationRequired, "current user not resolved")
	}
	if id != self {
		return errors.Errorf("user %s is not the current user", id)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.WithMessagef(statusError(resp), "%s %s", method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// statusError maps a failed response onto the messenger error taxonomy.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return errors.WithStack(messenger.ErrAuthenticationRequired)
	case http.StatusForbidden:
		if body.Error == "blocked" {
			return errors.WithStack(messenger.ErrPeerBlocked)
		}
	case http.StatusNotFound:
		return errors.WithStack(ErrNotFound)
	case http.StatusBadRequest:
		switch body.Error {
		case "empty_content":
			return errors.WithStack(messenger.ErrEmptyContent)
		case "invalid_query":
			return errors.WithStack(messenger.ErrInvalidQuery)
		case "invalid_status":
			return errors.WithStack(messenger.ErrInvalidStatus)
		}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error}
}
