package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return BackendError("transient error", nil)
		}
		return nil
	}

	// When: retrying with default config
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond // Speed up test

	err := Retry(context.Background(), cfg, fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	// Given: a function that always fails
	attempts := 0
	fn := func() error {
		attempts++
		return errors.New("persistent error")
	}

	// When: retrying with limited retries and no predicate
	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	err := Retry(context.Background(), cfg, fn)

	// Then: fails with wrapped error
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // Initial + 2 retries
}

func TestRetry_NonRetryableErrorSurfacesImmediately(t *testing.T) {
	// Given: a validation failure, which the default predicate rejects
	attempts := 0
	fn := func() error {
		attempts++
		return ValidationError("question cannot be empty", nil)
	}

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond

	err := Retry(context.Background(), cfg, fn)

	// Then: a single attempt, and the original error (not the retry wrapper)
	assert.Equal(t, 1, attempts)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidInput, GetCode(err))
}

func TestRetry_HonorsAdvisedRetryAfter(t *testing.T) {
	// Given: a rate-limited error advising a 50ms wait
	attempts := 0
	fn := func() error {
		attempts++
		if attempts == 1 {
			return RateLimitError("throttled", 50*time.Millisecond)
		}
		return nil
	}

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 1 * time.Millisecond

	start := time.Now()
	err := Retry(context.Background(), cfg, fn)
	elapsed := time.Since(start)

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	fn := func() error {
		return BackendError("still failing", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 200 * time.Millisecond

	err := Retry(ctx, cfg, fn)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_NoRetriesWhenMaxZero(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		return BackendError("fail", nil)
	}

	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 0

	err := Retry(context.Background(), cfg, fn)

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResult_ReturnsValueOnSuccess(t *testing.T) {
	attempts := 0
	fn := func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", TimeoutError("slow backend", nil)
		}
		return "answer", nil
	}

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond

	result, err := RetryWithResult(context.Background(), cfg, fn)

	require.NoError(t, err)
	assert.Equal(t, "answer", result)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithResult_ZeroValueOnFailure(t *testing.T) {
	fn := func() (int, error) {
		return 42, BackendError("fail", nil)
	}

	cfg := RetryConfig{
		MaxRetries:   1,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}

	result, err := RetryWithResult(context.Background(), cfg, fn)

	assert.Error(t, err)
	assert.Equal(t, 0, result)
}

func TestRetry_BackoffGrowsExponentially(t *testing.T) {
	// Two retries at 20ms and 40ms means at least 60ms total wait.
	attempts := 0
	fn := func() error {
		attempts++
		return BackendError("fail", nil)
	}

	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		RetryIf:      IsRetryable,
	}

	start := time.Now()
	_ = Retry(context.Background(), cfg, fn)
	elapsed := time.Since(start)

	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}
