package messenger

import (
	"context"

	"github.com/pkg/errors"
)

// ValidationError is a request rejected before any store or channel call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

var (
	ErrInvalidQuery  = &ValidationError{Field: "query", Reason: "must be at least 2 characters"}
	ErrInvalidStatus = &ValidationError{Field: "status", Reason: "must be one of pending, friend, blocked"}
	ErrEmptyContent  = &ValidationError{Field: "content", Reason: "must not be empty"}
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrSubscriptionFailed     = errors.New("subscription failed")
	ErrPeerBlocked            = errors.New("delivery blocked by peer")
	ErrNoActiveConversation   = errors.New("no active conversation")
	ErrUnknownDraft           = errors.New("unknown draft")
)

// TransportError wraps a failure of the store or the event channel. Unlike a
// validation error it is worth retrying.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransport reports whether err carries a *TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// classify turns a collaborator failure into the error taxonomy. Terminal
// kinds keep their identity and only gain context.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsValidation(err),
		IsTransport(err),
		errors.Is(err, ErrAuthenticationRequired),
		errors.Is(err, ErrPeerBlocked),
		errors.Is(err, context.Canceled):
		return errors.WithMessage(err, op)
	}
	return &TransportError{Op: op, Err: err}
}
