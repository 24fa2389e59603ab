package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.MessagesStored.Inc()
	m.MessagesRejected.WithLabelValues("empty").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesStored))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesRejected.WithLabelValues("empty")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "miochat_messages_stored_total 1")
	assert.Contains(t, string(body), `miochat_messages_rejected_total{reason="empty"} 2`)
}
