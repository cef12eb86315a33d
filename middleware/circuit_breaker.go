package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/shrek82/dbo/core"
	"github.com/shrek82/dbo/sqlstate"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = sqlstate.New(sqlstate.ConnectionFailure, "circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// CircuitBreakerMiddleware stops sending Select calls to a backend after
// Threshold consecutive failures, and lets one probe through once
// ResetTimeout has passed.
type CircuitBreakerMiddleware struct {
	Threshold    int
	ResetTimeout time.Duration

	mu             sync.Mutex
	state          State
	failures       int
	lastFailure    time.Time
	halfOpenPassed bool
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreakerMiddleware {
	return &CircuitBreakerMiddleware{
		Threshold:    threshold,
		ResetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

func (m *CircuitBreakerMiddleware) Name() string {
	return "CircuitBreaker"
}

func (m *CircuitBreakerMiddleware) Init(db *core.DB) error {
	return nil
}

func (m *CircuitBreakerMiddleware) Shutdown() error {
	return nil
}

// State returns the breaker's current state.
func (m *CircuitBreakerMiddleware) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *CircuitBreakerMiddleware) Process(ctx context.Context, req *core.Request, next core.SelectFunc) (core.Result, error) {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		if time.Since(m.lastFailure) <= m.ResetTimeout {
			m.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		m.state = StateHalfOpen
		m.halfOpenPassed = true
	case StateHalfOpen:
		// one probe at a time
		if m.halfOpenPassed {
			m.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		m.halfOpenPassed = true
	}
	m.mu.Unlock()

	res, err := next(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.recordFailure()
	} else {
		m.recordSuccess()
	}
	return res, err
}

func (m *CircuitBreakerMiddleware) recordFailure() {
	m.failures++
	m.lastFailure = time.Now()

	switch m.state {
	case StateClosed:
		if m.failures >= m.Threshold {
			m.state = StateOpen
		}
	case StateHalfOpen:
		m.state = StateOpen
		m.halfOpenPassed = false
	}
}

// recordSuccess resets the count, so only consecutive failures trip the
// breaker.
func (m *CircuitBreakerMiddleware) recordSuccess() {
	m.state = StateClosed
	m.failures = 0
	m.halfOpenPassed = false
}
