package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/mistakeknot/miochat/internal/core"
	"github.com/mistakeknot/miochat/internal/storage"
)

var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every method of *Store with CircuitBreaker + RetryOnDBLock
// to ride out transient SQLite errors. Domain outcomes such as ErrNotFound
// pass through without counting as breaker failures.
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient creates a ResilientStore with default circuit breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

func (r *ResilientStore) Breaker() *CircuitBreaker {
	return r.cb
}

func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}

func (r *ResilientStore) Ping(ctx context.Context) error {
	return r.do(ctx, func() error { return r.inner.Ping(ctx) })
}

func (r *ResilientStore) do(ctx context.Context, fn func() error) error {
	var domainErr error
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(ctx, func() error {
			err := fn()
			if isDomainErr(err) {
				domainErr = err
				return nil
			}
			return err
		})
	})
	if err != nil {
		return err
	}
	return domainErr
}

func isDomainErr(err error) bool {
	return errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrUsernameTaken) ||
		errors.Is(err, context.Canceled)
}

func (r *ResilientStore) CreateProfile(ctx context.Context, p core.Profile) (core.Profile, error) {
	var result core.Profile
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.CreateProfile(ctx, p)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetProfile(ctx context.Context, id string) (core.Profile, error) {
	var result core.Profile
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.GetProfile(ctx, id)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) UpdateProfile(ctx context.Context, id string, patch storage.ProfilePatch) (core.Profile, error) {
	var result core.Profile
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.UpdateProfile(ctx, id, patch)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]core.Profile, error) {
	var result []core.Profile
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.SearchProfiles(ctx, query, excludeID, limit)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ListContacts(ctx context.Context, ownerID string) ([]core.Contact, error) {
	var result []core.Contact
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.ListContacts(ctx, ownerID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ContactStatus(ctx context.Context, ownerID, peerID string) (core.ContactStatus, bool, error) {
	var (
		status core.ContactStatus
		ok     bool
	)
	err := r.do(ctx, func() error {
		var innerErr error
		status, ok, innerErr = r.inner.ContactStatus(ctx, ownerID, peerID)
		return innerErr
	})
	return status, ok, err
}

func (r *ResilientStore) UpsertContact(ctx context.Context, c core.Contact) (core.Contact, error) {
	var result core.Contact
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.UpsertContact(ctx, c)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ConversationMessages(ctx context.Context, a, b string, limit int) ([]core.Message, error) {
	var result []core.Message
	err := r.do(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.ConversationMessages(ctx, a, b, limit)
		return innerErr
	})
	return result, err
}

// InsertMessage is safe to retry: the insert is idempotent by message id.
func (r *ResilientStore) InsertMessage(ctx context.Context, msg core.Message) (core.Message, bool, error) {
	var (
		result  core.Message
		created bool
	)
	err := r.do(ctx, func() error {
		var innerErr error
		result, created, innerErr = r.inner.InsertMessage(ctx, msg)
		return innerErr
	})
	return result, created, err
}
