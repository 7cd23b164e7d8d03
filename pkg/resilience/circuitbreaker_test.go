package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream exploded")

// fakeClock lets tests advance the breaker's view of time deterministically.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	cb := NewCircuitBreaker("test", cfg)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cb.now = clock.now
	return cb, clock
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(func() error { return errUpstream })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(func() error { return nil })
}

func TestCircuitBreaker_OpensAtRollingThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		Window:           30 * time.Second,
		Cooldown:         30 * time.Second,
	})

	require.Error(t, fail(cb))
	require.Error(t, fail(cb))
	assert.Equal(t, StateClosed, cb.GetState())

	require.Error(t, fail(cb))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_RejectsWithoutInvoking(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Window:           30 * time.Second,
		Cooldown:         30 * time.Second,
	})
	require.Error(t, fail(cb))
	require.Equal(t, StateOpen, cb.GetState())

	invoked := false
	err := cb.Execute(func() error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestCircuitBreaker_FailuresAgeOutOfWindow(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		Window:           10 * time.Second,
		Cooldown:         30 * time.Second,
	})

	require.Error(t, fail(cb))
	require.Error(t, fail(cb))
	assert.Equal(t, 2, cb.FailureCount())

	// The first two failures leave the window before the third arrives.
	clock.advance(11 * time.Second)
	require.Error(t, fail(cb))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.FailureCount())
}

func TestCircuitBreaker_HalfOpenProbeRecovers(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Window:           30 * time.Second,
		Cooldown:         5 * time.Second,
		HalfOpenProbes:   1,
	})
	require.Error(t, fail(cb))
	require.Equal(t, StateOpen, cb.GetState())

	// Still cooling down.
	err := succeed(cb)
	require.ErrorIs(t, err, ErrCircuitOpen)

	clock.advance(6 * time.Second)
	require.NoError(t, succeed(cb))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Window:           30 * time.Second,
		Cooldown:         5 * time.Second,
		HalfOpenProbes:   1,
	})
	require.Error(t, fail(cb))
	clock.advance(6 * time.Second)

	require.Error(t, fail(cb))
	assert.Equal(t, StateOpen, cb.GetState())

	// The new open period restarts the cool-down.
	err := succeed(cb)
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Window:           30 * time.Second,
		Cooldown:         5 * time.Second,
		HalfOpenProbes:   1,
	})
	require.Error(t, fail(cb))
	clock.advance(6 * time.Second)

	// First probe is admitted and held open; a second concurrent call must
	// be rejected until the probe resolves.
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- cb.Execute(func() error {
			<-release
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		return cb.GetState() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	err := succeed(cb)
	require.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Available(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Window:           30 * time.Second,
		Cooldown:         5 * time.Second,
	})
	assert.True(t, cb.Available())

	require.Error(t, fail(cb))
	assert.False(t, cb.Available())

	// Once the cool-down has elapsed a probe would be admitted.
	clock.advance(6 * time.Second)
	assert.True(t, cb.Available())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Window:           30 * time.Second,
		Cooldown:         5 * time.Second,
	})

	var transitions []State
	cb.OnStateChange(func(name string, s State) {
		assert.Equal(t, "test", name)
		transitions = append(transitions, s)
	})

	require.Error(t, fail(cb))
	clock.advance(6 * time.Second)
	require.NoError(t, succeed(cb))

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Window:           30 * time.Second,
		Cooldown:         time.Hour,
	})
	require.Error(t, fail(cb))
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	require.NoError(t, succeed(cb))
}
