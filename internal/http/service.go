package httpapi

import (
	"time"

	"github.com/mistakeknot/miochat/internal/config"
	"github.com/mistakeknot/miochat/internal/core"
	"github.com/mistakeknot/miochat/internal/metrics"
	"github.com/mistakeknot/miochat/internal/ratelimit"
	"github.com/mistakeknot/miochat/internal/storage"
	"github.com/sirupsen/logrus"
)

// MinQueryLength is the shortest accepted profile search query, in runes.
const MinQueryLength = 2

type Service struct {
	store        storage.Store
	bus          Broadcaster
	limiter      *ratelimit.Limiter
	metrics      *metrics.Metrics
	policy       config.BlockPolicy
	searchLimit  int
	historyLimit int
	now          func() time.Time
	log          *logrus.Entry
}

// Broadcaster pushes an event to every open channel of userID.
type Broadcaster interface {
	Broadcast(userID string, ev core.Event)
}

func NewService(store storage.Store) *Service {
	return &Service{
		store:  store,
		policy: config.BlockListOnly,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logrus.WithField("component", "http"),
	}
}

func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.bus = b
	return s
}

func (s *Service) WithLimiter(l *ratelimit.Limiter) *Service {
	s.limiter = l
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithBlockPolicy(p config.BlockPolicy) *Service {
	if p.Valid() {
		s.policy = p
	}
	return s
}

// WithLimits caps search results and history length. Zero keeps the store
// defaults (search) or returns the full conversation (history).
func (s *Service) WithLimits(search, history int) *Service {
	s.searchLimit = search
	s.historyLimit = history
	return s
}

func (s *Service) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.MessagesRejected.WithLabelValues(reason).Inc()
	}
}
