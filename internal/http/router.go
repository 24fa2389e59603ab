package httpapi

import (
	"net/http"
	"strconv"
	"time"
)

// NewRouter wires the API. mw (usually auth.Middleware) wraps every API and
// WebSocket route; /metrics and /healthz stay open.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(route string, h http.HandlerFunc) http.Handler {
		handler := svc.instrument(route, h)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}

	mux.Handle("/api/me", wrap("me", svc.handleMe))
	mux.Handle("/api/profiles", wrap("profiles", svc.handleSearchProfiles))
	mux.Handle("/api/profiles/", wrap("profile", svc.handleProfileByID))
	mux.Handle("/api/contacts", wrap("contacts", svc.handleContacts))
	mux.Handle("/api/contacts/", wrap("contact", svc.handleContactByPeer))
	mux.Handle("/api/conversations/", wrap("conversation", svc.handleConversation))
	mux.Handle("/api/messages", wrap("messages", svc.handleSendMessage))

	if wsHandler != nil {
		if mw != nil {
			mux.Handle("/ws/messages", mw(wsHandler))
		} else {
			mux.Handle("/ws/messages", wsHandler)
		}
	}
	if svc.metrics != nil {
		mux.Handle("/metrics", svc.metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Service) instrument(route string, h http.HandlerFunc) http.Handler {
	if s.metrics == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
