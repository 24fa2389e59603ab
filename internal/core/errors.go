package core

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username taken")
	// ErrBlocked is returned when the receiver has blocked the sender and the
	// server enforces blocks on delivery.
	ErrBlocked = errors.New("blocked by receiver")
)
