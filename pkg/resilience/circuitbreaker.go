// Package resilience holds the fault-tolerance helpers used around the
// optional backends: a circuit breaker for the result cache, retry with
// backoff for the build pipeline and a context deadline wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls failure thresholds and recovery timing.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// OnStateChange, if set, is called with the lock released.
	OnStateChange func(from, to State)
}

// CircuitBreaker opens after FailureThreshold consecutive failures, rejects
// calls for ResetTimeout and then lets a single probe through. The probe's
// outcome closes or reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.transition(func() State {
		cb.failures = 0
		cb.probing = false
		return StateClosed
	})
}

func (cb *CircuitBreaker) allow() error {
	var err error
	cb.transition(func() State {
		switch cb.state {
		case StateOpen:
			wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
			if wait > 0 {
				err = fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
				return StateOpen
			}
			cb.probing = true
			return StateHalfOpen
		case StateHalfOpen:
			if cb.probing {
				err = fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
			}
			cb.probing = true
		}
		return cb.state
	})
	return err
}

func (cb *CircuitBreaker) record(err error) {
	cb.transition(func() State {
		cb.probing = false
		if err == nil {
			cb.failures = 0
			return StateClosed
		}
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			return StateOpen
		}
		return cb.state
	})
}

// transition applies step under the lock and reports a state change.
func (cb *CircuitBreaker) transition(step func() State) {
	cb.mu.Lock()
	from := cb.state
	to := step()
	cb.state = to
	failures := cb.failures
	cb.mu.Unlock()

	if from == to {
		return
	}
	cb.logger.Info("circuit state changed", "from", from.String(), "to", to.String(), "consecutive_failures", failures)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
