// Package cli holds the account bootstrap behind `miochat users add`.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mistakeknot/miochat/internal/auth"
	"github.com/mistakeknot/miochat/internal/core"
	"github.com/mistakeknot/miochat/internal/names"
	"github.com/mistakeknot/miochat/internal/storage"
)

const maxHandleAttempts = 8

type NewUser struct {
	Email    string
	Username string
}

type AddedUser struct {
	Profile core.Profile
	Token   string
}

// AddUser creates a profile and issues its first bearer token. Without a
// username the handle is derived from the email, falling back to a generated
// one when that is taken.
func AddUser(ctx context.Context, store storage.Store, keysPath string, in NewUser) (AddedUser, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return AddedUser{}, fmt.Errorf("valid email required")
	}
	username := strings.TrimSpace(in.Username)
	explicit := username != ""

	candidates := []string{username}
	if !explicit {
		candidates = candidates[:0]
		if h := names.FromEmail(email); h != "" {
			candidates = append(candidates, h)
		}
		for len(candidates) < maxHandleAttempts {
			candidates = append(candidates, names.Handle())
		}
	}
	if explicit && len([]rune(username)) < 2 {
		return AddedUser{}, fmt.Errorf("username must be at least 2 characters")
	}

	id := uuid.NewString()
	var (
		profile core.Profile
		err     error
	)
	for _, name := range candidates {
		profile, err = store.CreateProfile(ctx, core.Profile{ID: id, Username: name, Email: email})
		if err == nil {
			break
		}
		if !errors.Is(err, core.ErrUsernameTaken) || explicit {
			return AddedUser{}, fmt.Errorf("create profile: %w", err)
		}
	}
	if err != nil {
		return AddedUser{}, fmt.Errorf("create profile: %w", err)
	}

	token, err := auth.IssueKey(keysPath, profile.ID)
	if err != nil {
		return AddedUser{}, fmt.Errorf("issue token: %w", err)
	}
	return AddedUser{Profile: profile, Token: token}, nil
}
