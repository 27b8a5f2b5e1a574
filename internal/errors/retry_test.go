package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(2), func() error {
		calls++
		return fmt.Errorf("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "1 initial + 2 retries")
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	err := Retry(ctx, cfg, func() error {
		calls++
		cancel()
		return fmt.Errorf("fail then cancel")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation during backoff stops further attempts")
}

func TestRetry_RetryIfStopsEarly(t *testing.T) {
	calls := 0
	cfg := fastRetryConfig(5)
	cfg.RetryIf = IsRetryable

	permanent := New(CodeSchemaValidationFailed, "missing field")
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors are surfaced immediately")
	assert.True(t, IsCode(err, CodeSchemaValidationFailed))
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetryConfig(3), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, fmt.Errorf("not yet")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRetryWithResult_ZeroValueOnFailure(t *testing.T) {
	got, err := RetryWithResult(context.Background(), fastRetryConfig(1), func() (string, error) {
		return "partial", fmt.Errorf("bad")
	})
	require.Error(t, err)
	assert.Equal(t, "", got)
}

func TestDatabaseRetryConfig_Schedule(t *testing.T) {
	cfg := DatabaseRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 400*time.Millisecond, cfg.MaxDelay)
	assert.True(t, cfg.Jitter)
}

func TestFileShareRetryConfig_FlatSchedule(t *testing.T) {
	cfg := FileShareRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.MaxDelay)
	assert.Equal(t, 1.0, cfg.Multiplier)
}
