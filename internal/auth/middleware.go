package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Info identifies the authenticated caller.
type Info struct {
	UserID string
}

type contextKey struct{}

func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// WithInfo returns ctx carrying info. Tests use it to skip the middleware.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// Middleware requires a bearer token known to ring. Browsers cannot set
// headers on a WebSocket handshake, so the token may also arrive as the
// access_token query parameter.
func Middleware(ring *Keyring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := authorize(r, ring)
			if !ok {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), Info{UserID: userID})))
		})
	}
}

func authorize(r *http.Request, ring *Keyring) (string, bool) {
	key := bearer(r.Header.Get("Authorization"))
	if key == "" {
		key = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if key == "" {
		return "", false
	}
	return ring.UserForKey(key)
}

func bearer(header string) string {
	header = strings.TrimSpace(header)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
