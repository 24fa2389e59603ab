package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/mistakeknot/miochat/internal/core"
	"github.com/mistakeknot/miochat/internal/storage"
)

//go:embed schema.sql
var schema string

var _ storage.Store = (*Store)(nil)

type Store struct {
	db  dbHandle
	now func() time.Time
}

type Option func(*queryLogger)

// WithSlowQueryThreshold sets the duration above which a query is logged.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(q *queryLogger) {
		q.threshold = d
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite is single-writer; one connection avoids SQLITE_BUSY and keeps
	// PRAGMAs on the connection that runs the queries.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return newStore(db, opts...), nil
}

// NewInMemory opens a private in-memory database. Each ":memory:" connection
// is a separate database, so the pool is pinned to one connection.
func NewInMemory(opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return newStore(db, opts...), nil
}

func newStore(db *sql.DB, opts ...Option) *Store {
	q := &queryLogger{inner: db}
	for _, opt := range opts {
		opt(q)
	}
	return &Store{
		db:  q,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

func (s *Store) CreateProfile(ctx context.Context, p core.Profile) (core.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if strings.TrimSpace(p.Username) == "" {
		return core.Profile{}, fmt.Errorf("username required")
	}
	p.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, username, username_fold, avatar_url, email, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Username, core.FoldUsername(p.Username), p.AvatarURL, p.Email, p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err, "profiles.username_fold") {
			return core.Profile{}, core.ErrUsernameTaken
		}
		return core.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (core.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, avatar_url, email, updated_at FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Profile{}, core.ErrNotFound
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, patch storage.ProfilePatch) (core.Profile, error) {
	sets := []string{"updated_at = ?"}
	args := []any{s.now().UnixNano()}
	if patch.Username != nil {
		if strings.TrimSpace(*patch.Username) == "" {
			return core.Profile{}, fmt.Errorf("username required")
		}
		sets = append(sets, "username = ?", "username_fold = ?")
		args = append(args, *patch.Username, core.FoldUsername(*patch.Username))
	}
	if patch.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *patch.AvatarURL)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err, "profiles.username_fold") {
			return core.Profile{}, core.ErrUsernameTaken
		}
		return core.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Profile{}, core.ErrNotFound
	}
	return s.GetProfile(ctx, id)
}

// SearchProfiles matches query as a case-insensitive substring of the
// username. Both sides are folded in Go because LIKE only folds ASCII.
func (s *Store) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]core.Profile, error) {
	if limit <= 0 {
		limit = storage.DefaultSearchLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, avatar_url, email, updated_at FROM profiles
		 WHERE username_fold LIKE '%' || ? || '%' ESCAPE '\' AND id != ?
		 ORDER BY username_fold ASC LIMIT ?`,
		escapeLike(core.FoldUsername(query)), excludeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	defer rows.Close()

	out := make([]core.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) ListContacts(ctx context.Context, ownerID string) ([]core.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.owner_id, c.peer_id, c.status, c.updated_at,
		        p.id, p.username, p.avatar_url, p.email, p.updated_at
		 FROM contacts c
		 JOIN profiles p ON p.id = c.peer_id
		 WHERE c.owner_id = ?
		 ORDER BY p.username ASC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	out := make([]core.Contact, 0)
	for rows.Next() {
		var (
			c                    core.Contact
			status               string
			updated, peerUpdated int64
		)
		if err := rows.Scan(&c.OwnerID, &c.PeerID, &status, &updated,
			&c.Peer.ID, &c.Peer.Username, &c.Peer.AvatarURL, &c.Peer.Email, &peerUpdated); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Status = core.ContactStatus(status)
		c.UpdatedAt = time.Unix(0, updated).UTC()
		c.Peer.UpdatedAt = time.Unix(0, peerUpdated).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) ContactStatus(ctx context.Context, ownerID, peerID string) (core.ContactStatus, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM contacts WHERE owner_id = ? AND peer_id = ?`, ownerID, peerID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("contact status: %w", err)
	}
	return core.ContactStatus(status), true, nil
}

func (s *Store) UpsertContact(ctx context.Context, c core.Contact) (core.Contact, error) {
	if !c.Status.Valid() {
		return core.Contact{}, fmt.Errorf("invalid status %q", c.Status)
	}
	peer, err := s.GetProfile(ctx, c.PeerID)
	if err != nil {
		return core.Contact{}, err
	}
	c.UpdatedAt = s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (owner_id, peer_id, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id, peer_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		c.OwnerID, c.PeerID, string(c.Status), c.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return core.Contact{}, fmt.Errorf("upsert contact: %w", err)
	}
	c.Peer = peer
	return c, nil
}

// ConversationMessages returns the messages between a and b in ascending
// (created_at, seq) order. A positive limit keeps the most recent ones.
func (s *Store) ConversationMessages(ctx context.Context, a, b string, limit int) ([]core.Message, error) {
	query := `SELECT seq, id, sender_id, receiver_id, content, created_at FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at ASC, seq ASC`
	args := []any{a, b, b, a}
	if limit > 0 {
		query = `SELECT * FROM (SELECT seq, id, sender_id, receiver_id, content, created_at FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY created_at DESC, seq DESC LIMIT ?) ORDER BY created_at ASC, seq ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	out := make([]core.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg core.Message) (core.Message, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Message{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return core.Message{}, false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Message{}, false, fmt.Errorf("rows affected: %w", err)
	}
	stored, err := scanMessage(tx.QueryRowContext(ctx,
		`SELECT seq, id, sender_id, receiver_id, content, created_at FROM messages WHERE id = ?`, msg.ID))
	if err != nil {
		return core.Message{}, false, fmt.Errorf("read message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Message{}, false, fmt.Errorf("commit: %w", err)
	}
	return stored, n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (core.Profile, error) {
	var (
		p       core.Profile
		updated int64
	)
	if err := row.Scan(&p.ID, &p.Username, &p.AvatarURL, &p.Email, &updated); err != nil {
		return core.Profile{}, err
	}
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}

func scanMessage(row scanner) (core.Message, error) {
	var (
		m       core.Message
		seq     int64
		created int64
	)
	if err := row.Scan(&seq, &m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &created); err != nil {
		return core.Message{}, err
	}
	m.Seq = uint64(seq)
	m.CreatedAt = time.Unix(0, created).UTC()
	return m, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
