package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mistakeknot/miochat/internal/auth"
	"github.com/mistakeknot/miochat/internal/core"
	"github.com/mistakeknot/miochat/internal/metrics"
	"github.com/mistakeknot/miochat/internal/storage/sqlite"
	"github.com/mistakeknot/miochat/internal/ws"
	"github.com/stretchr/testify/require"
)

// testEnv bundles a Service + httptest.Server + ws.Hub over in-memory SQLite
// with three users: alice, bob and carol. Their bearer token is their name.
type testEnv struct {
	srv     *httptest.Server
	hub     *ws.Hub
	store   *sqlite.Store
	svc     *Service
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, configure ...func(*Service)) *testEnv {
	t.Helper()
	st := sqlite.NewSQLiteTest(t)
	ctx := context.Background()
	keys := make(map[string]string)
	for _, name := range []string{"alice", "bob", "carol", "bobby"} {
		_, err := st.CreateProfile(ctx, core.Profile{ID: "u-" + name, Username: name, Email: name + "@example.com"})
		require.NoError(t, err)
		keys[name] = "u-" + name
	}
	m := metrics.New()
	hub := ws.NewHub().WithMetrics(m)
	svc := NewService(st).WithBroadcaster(hub).WithMetrics(m)
	for _, fn := range configure {
		fn(svc)
	}
	srv := httptest.NewServer(NewRouter(svc, hub.Handler(), auth.Middleware(auth.NewKeyring(keys))))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, store: st, svc: svc, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decodeJSON[map[string]string](t, resp)["error"]
}
