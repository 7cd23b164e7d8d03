// Package resilience provides fault-tolerance primitives: a circuit breaker
// with a sliding failure window, exponential-backoff retry, and a
// context-based timeout wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call without
// invoking the wrapped function. Callers can use errors.Is to distinguish a
// breaker rejection from a genuine upstream failure.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current phase of a circuit breaker.
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
// The breaker trips open once FailureThreshold failures accumulate within the
// sliding Window; it stays open for Cooldown and then admits HalfOpenProbes
// probe calls.
type CircuitBreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
	HalfOpenProbes   int
}

func defaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Window:           30 * time.Second,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// CircuitBreaker tracks failures over a sliding time window and trips open
// when the rolling count reaches the threshold. After a cool-down period it
// transitions to half-open and allows a bounded number of probe requests.
//
// The breaker's own timers run independently of any single request's
// lifecycle; cancelling a request does not reset the window or cool-down.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      []time.Time // failure timestamps within the window, oldest first
	openedAt      time.Time
	halfOpenInUse int
	logger        *slog.Logger
	onStateChange func(name string, s State)
	now           func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker with the given config, filling
// in defaults for zero values.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	defaults := defaultCBConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = defaults.HalfOpenProbes
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// OnStateChange registers a callback invoked (under no lock) after every
// state transition, e.g. to update a metrics gauge.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, s State)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Execute runs fn if the circuit allows it, recording success or failure.
// A rejection returns ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

// GetState returns the current State of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker's identity.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	var notify func(string, State)
	defer func() {
		cb.mu.Unlock()
		if notify != nil {
			notify(cb.name, StateHalfOpen)
		}
	}()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		remaining := cb.cfg.Cooldown - cb.now().Sub(cb.openedAt)
		if remaining > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, remaining.Round(time.Millisecond))
		}
		cb.state = StateHalfOpen
		cb.halfOpenInUse = 1
		cb.logger.Info("circuit transitioning to half-open", "after", cb.cfg.Cooldown)
		notify = cb.onStateChange
		return nil
	case StateHalfOpen:
		if cb.halfOpenInUse >= cb.cfg.HalfOpenProbes {
			return fmt.Errorf("%w: %s (half-open probe limit reached)", ErrCircuitOpen, cb.name)
		}
		cb.halfOpenInUse++
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	var newState State
	var notify func(string, State)
	if err == nil {
		notify = cb.onSuccess()
	} else {
		notify = cb.onFailure()
	}
	newState = cb.state
	cb.mu.Unlock()
	if notify != nil {
		notify(cb.name, newState)
	}
}

// onSuccess runs with cb.mu held and returns a notification callback if the
// state changed.
func (cb *CircuitBreaker) onSuccess() func(string, State) {
	switch cb.state {
	case StateClosed:
		// Successes do not shrink the window; failures age out on their own.
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failures = cb.failures[:0]
		cb.halfOpenInUse = 0
		cb.logger.Info("circuit closed (recovered)")
		return cb.onStateChange
	}
	return nil
}

// onFailure runs with cb.mu held and returns a notification callback if the
// state changed.
func (cb *CircuitBreaker) onFailure() func(string, State) {
	now := cb.now()
	switch cb.state {
	case StateClosed:
		cb.failures = append(cb.failures, now)
		cb.pruneLocked(now)
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = now
			cb.logger.Warn("circuit opened",
				"failures_in_window", len(cb.failures),
				"threshold", cb.cfg.FailureThreshold,
				"window", cb.cfg.Window,
			)
			return cb.onStateChange
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = now
		cb.halfOpenInUse = 0
		cb.logger.Warn("circuit re-opened (half-open probe failed)")
		return cb.onStateChange
	}
	return nil
}

// pruneLocked drops failure timestamps that have aged out of the window.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.cfg.Window)
	i := 0
	for i < len(cb.failures) && cb.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.failures = append(cb.failures[:0], cb.failures[i:]...)
	}
}

// Available reports whether a call attempted now could pass through: the
// breaker is not Open, or it is Open but the cool-down has elapsed so a probe
// would be admitted.
func (cb *CircuitBreaker) Available() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return true
	}
	return cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown
}

// FailureCount returns the current rolling failure count within the window.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneLocked(cb.now())
	return len(cb.failures)
}

// Reset forces the circuit breaker back to the Closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.failures = cb.failures[:0]
	cb.halfOpenInUse = 0
	notify := cb.onStateChange
	cb.mu.Unlock()
	cb.logger.Info("circuit manually reset")
	if notify != nil {
		notify(cb.name, StateClosed)
	}
}
