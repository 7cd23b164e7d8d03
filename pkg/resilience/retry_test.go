package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "op", fastRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), "op", fastRetryConfig(), func() error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	attempts := 0
	fatal := errors.New("schema violation")
	err := Retry(context.Background(), "op", fastRetryConfig(), func() error {
		attempts++
		return Permanent(fatal)
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetryConfig()
	cfg.InitialDelay = time.Second

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, "op", cfg, func() error {
		attempts++
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestWithTimeout_Expires(t *testing.T) {
	err := WithTimeout(context.Background(), 20*time.Millisecond, "slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_Passthrough(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, "fast", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestSubBudget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	budget := SubBudget(ctx, 200*time.Millisecond, 50*time.Millisecond)
	assert.Greater(t, budget, 700*time.Millisecond)
	assert.LessOrEqual(t, budget, 800*time.Millisecond)

	// Margin larger than the remaining time clamps to the floor.
	assert.Equal(t, 50*time.Millisecond, SubBudget(ctx, 2*time.Second, 50*time.Millisecond))

	// No deadline means no budget.
	assert.Zero(t, SubBudget(context.Background(), time.Millisecond, time.Millisecond))
}
