package sqlite

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BreakerState represents the state of the circuit breaker.
type BreakerState int

const (
	StateClosed   BreakerState = 0
	StateOpen     BreakerState = 1
	StateHalfOpen BreakerState = 2
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips after threshold consecutive failures and lets one
// probe through once resetTimeout has passed.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	nowFunc      func() time.Time
	onChange     func(from, to BreakerState)
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		nowFunc:      time.Now,
	}
}

// OnStateChange registers fn to run after every transition. fn runs with the
// breaker unlocked.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen if the breaker
// is open and the reset timeout hasn't elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		err := fn()
		cb.mu.Lock()
		from := cb.state
		if err != nil {
			cb.failures++
			if cb.failures >= cb.threshold && cb.state == StateClosed {
				cb.state = StateOpen
				cb.lastFailure = cb.nowFunc()
			}
		} else {
			cb.failures = 0
		}
		cb.transitionLocked(from)
		return err

	case StateOpen:
		if cb.nowFunc().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		// One probe per reset cycle.
		cb.state = StateHalfOpen
		cb.transitionLocked(StateOpen)
		err := fn()
		cb.mu.Lock()
		if err != nil {
			cb.state = StateOpen
			cb.lastFailure = cb.nowFunc()
		} else {
			cb.state = StateClosed
			cb.failures = 0
		}
		cb.transitionLocked(StateHalfOpen)
		return err

	default:
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
}

// transitionLocked unlocks cb and reports a state change since from.
func (cb *CircuitBreaker) transitionLocked(from BreakerState) {
	to := cb.state
	fn := cb.onChange
	cb.mu.Unlock()
	if from == to {
		return
	}
	logrus.WithFields(logrus.Fields{
		"component": "sqlite",
		"from":      from.String(),
		"to":        to.String(),
	}).Warn("Circuit breaker transition")
	if fn != nil {
		fn(from, to)
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
