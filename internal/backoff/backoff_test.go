package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Class
	}{
		{"python syntax error", "SyntaxError: invalid syntax", ClassPermanent},
		{"type error", "TypeError: unsupported operand type(s)", ClassPermanent},
		{"import error", "ImportError: cannot import name 'foo'", ClassPermanent},
		{"module not found", "ModuleNotFoundError: No module named 'requests'", ClassPermanent},
		{"attribute error", "AttributeError: 'NoneType' object has no attribute 'id'", ClassPermanent},
		{"name resolution", "NameError: name 'client' is not defined", ClassPermanent},
		{"rate limit", "Error: rate limit exceeded, retry later", ClassTransient},
		{"http 429", "HTTP 429 Too Many Requests", ClassTransient},
		{"timeout", "request timed out after 30s", ClassTransient},
		{"deadline", "context deadline exceeded", ClassTransient},
		{"connection reset", "read tcp: connection reset by peer", ClassTransient},
		{"bad gateway", "upstream returned 502 Bad Gateway", ClassTransient},
		{"service unavailable", "503 Service Unavailable", ClassTransient},
		{"unrecognized", "something strange happened", ClassUnknown},
		{"empty", "", ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.text))
		})
	}
}

func TestCategorize_CaseInsensitive(t *testing.T) {
	assert.Equal(t, ClassPermanent, Categorize("SYNTAXERROR: BAD"))
	assert.Equal(t, ClassTransient, Categorize("RATE LIMIT HIT"))
}

func TestCategorize_PermanentWinsOverTransient(t *testing.T) {
	// Text matching both lists must stay permanent.
	got := Categorize("SyntaxError while handling timeout")
	assert.Equal(t, ClassPermanent, got)
}

func TestDelay_ExponentialGrowth(t *testing.T) {
	cfg := Config{
		InitialDelay: time.Second,
		Base:         2.0,
		MaxDelay:     5 * time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Delay(tt.attempt, cfg), "attempt %d", tt.attempt)
	}
}

func TestDelay_NegativeAttemptClamped(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, Base: 2.0, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, Delay(-3, cfg))
}

func TestDelay_HugeAttemptDoesNotOverflow(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, Base: 2.0, MaxDelay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, Delay(500, cfg))
}

func fastConfig(maxRetries int) Config {
	return Config{
		InitialDelay: time.Millisecond,
		Base:         2.0,
		MaxDelay:     5 * time.Millisecond,
		MaxRetries:   maxRetries,
	}
}

func TestWithRetry_PermanentFailsImmediately(t *testing.T) {
	calls := 0
	permErr := errors.New("SyntaxError: invalid syntax")

	err := WithRetry(context.Background(), fastConfig(3), func() error {
		calls++
		return permErr
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent error must not be retried")
	assert.Same(t, permErr, err, "permanent error must propagate unchanged")
}

func TestWithRetry_TransientRetriesUntilSuccess(t *testing.T) {
	calls := 0

	err := WithRetry(context.Background(), fastConfig(3), func() error {
		calls++
		if calls <= 2 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_UnknownRetried(t *testing.T) {
	calls := 0

	err := WithRetry(context.Background(), fastConfig(2), func() error {
		calls++
		if calls == 1 {
			return errors.New("inexplicable failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_ExhaustionReturnsLastError(t *testing.T) {
	calls := 0

	err := WithRetry(context.Background(), fastConfig(2), func() error {
		calls++
		return fmt.Errorf("timeout on call %d", calls)
	})

	require.Error(t, err)
	// 1 initial + 2 retries
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "timeout on call 3")
}

func TestWithRetry_MarkedPermanentUnwrapped(t *testing.T) {
	calls := 0
	inner := errors.New("declaration rejected")

	err := WithRetry(context.Background(), fastConfig(3), func() error {
		calls++
		return Permanent(inner)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, inner, err)
}

func TestWithRetry_ContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := Config{
		InitialDelay: time.Hour,
		Base:         2.0,
		MaxDelay:     time.Hour,
		MaxRetries:   3,
	}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- WithRetry(ctx, cfg, func() error {
			calls++
			return errors.New("connection reset")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("WithRetry did not abort on context cancellation")
	}
}

func TestWithRetryNotify_ObservesEachRetry(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	err := WithRetryNotify(context.Background(), fastConfig(3), func() error {
		if len(attempts) < 2 {
			return errors.New("rate limit")
		}
		return nil
	}, func(err error, attempt int, class Class, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
		assert.Equal(t, ClassTransient, class)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}
