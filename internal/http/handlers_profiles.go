package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/mistakeknot/miochat/internal/core"
	"github.com/mistakeknot/miochat/internal/storage"
)

type meResponse struct {
	ID      string       `json:"id"`
	Email   string       `json:"email"`
	Profile core.Profile `json:"profile"`
}

type updateProfileRequest struct {
	Username  *string `json:"username"`
	AvatarURL *string `json:"avatar_url"`
}

func (s *Service) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getMe(w, r)
	case http.MethodPatch:
		s.updateMe(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) getMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	p, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		// A token whose profile is gone no longer names a user.
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{ID: p.ID, Email: p.Email, Profile: p})
}

func (s *Service) updateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username != nil {
		name := strings.TrimSpace(*req.Username)
		if utf8.RuneCountInString(name) < 2 {
			writeError(w, http.StatusBadRequest, errBadRequest)
			return
		}
		req.Username = &name
	}
	updated, err := s.store.UpdateProfile(r.Context(), userID, storage.ProfilePatch{
		Username:  req.Username,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUsernameTaken):
			writeError(w, http.StatusConflict, errUsernameTaken)
		case errors.Is(err, core.ErrNotFound):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleSearchProfiles serves GET /api/profiles?q=. The caller never
// appears in the results.
func (s *Service) handleSearchProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if utf8.RuneCountInString(q) < MinQueryLength {
		writeError(w, http.StatusBadRequest, errInvalidQuery)
		return
	}
	found, err := s.store.SearchProfiles(r.Context(), q, userID, s.searchLimit)
	if err != nil {
		s.log.WithField("error", err.Error()).Warn("Profile search failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	out := make([]core.Profile, 0, len(found))
	for _, p := range found {
		out = append(out, p.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleProfileByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	id := pathID(r, "/api/profiles/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if p.ID != userID {
		p = p.Public()
	}
	writeJSON(w, http.StatusOK, p)
}
