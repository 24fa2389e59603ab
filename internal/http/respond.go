package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mistakeknot/miochat/internal/auth"
)

// Error codes returned in {"error": ...} bodies.
const (
	errInvalidQuery  = "invalid_query"
	errInvalidStatus = "invalid_status"
	errEmptyContent  = "empty_content"
	errBlocked       = "blocked"
	errRateLimited   = "rate_limited"
	errUsernameTaken = "username_taken"
	errBadRequest    = "bad_request"
	errTooLarge      = "too_large"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// decodeBody reads a size-capped JSON body into v. On failure it writes 413
// or 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errTooLarge)
			return false
		}
		writeError(w, http.StatusBadRequest, errBadRequest)
		return false
	}
	return true
}

// caller returns the authenticated user id, writing 401 when there is none.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	info, ok := auth.FromContext(r.Context())
	if !ok || info.UserID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return "", false
	}
	return info.UserID, true
}

// pathID extracts the single path segment after prefix.
func pathID(r *http.Request, prefix string) string {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	id = strings.Trim(id, "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
