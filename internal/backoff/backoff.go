// Package backoff classifies agent execution errors and schedules
// retries with capped exponential delays.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Class is the retry category of an execution error.
type Class string

const (
	// ClassTransient errors are expected to clear on their own.
	ClassTransient Class = "transient"
	// ClassPermanent errors will fail identically on every attempt.
	ClassPermanent Class = "permanent"
	// ClassUnknown errors are retried on the optimistic assumption
	// that an unrecognized failure may still be transient.
	ClassUnknown Class = "unknown"
)

// Deterministic code faults. Checked before the transient list so an
// error text matching both categories stays permanent.
var permanentPatterns = []string{
	"syntaxerror",
	"syntax error",
	"typeerror",
	"type error",
	"importerror",
	"import error",
	"modulenotfounderror",
	"attributeerror",
	"attribute error",
	"nameerror",
	"name error",
	"undefined name",
	"is not defined",
	"cannot import",
}

// Environmental faults that tend to clear on retry.
var transientPatterns = []string{
	"rate limit",
	"rate-limit",
	"ratelimit",
	"too many requests",
	"429",
	"timed out",
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"connection aborted",
	"broken pipe",
	"temporarily unavailable",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"overloaded",
	"500",
	"502",
	"503",
	"504",
}

// Categorize classifies an error text by case-insensitive substring
// match: permanent patterns first, then transient, else unknown.
func Categorize(errText string) Class {
	lower := strings.ToLower(errText)
	for _, p := range permanentPatterns {
		if strings.Contains(lower, p) {
			return ClassPermanent
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return ClassTransient
		}
	}
	return ClassUnknown
}

// Config controls delay growth and the retry budget.
type Config struct {
	InitialDelay time.Duration
	Base         float64
	MaxDelay     time.Duration
	MaxRetries   int
}

// DefaultConfig mirrors the engine's configuration defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		Base:         2.0,
		MaxDelay:     60 * time.Second,
		MaxRetries:   3,
	}
}

// Delay computes the wait before retry number attempt (zero-based):
// min(initial * base^attempt, max).
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Base, float64(attempt))
	if d >= float64(cfg.MaxDelay) || math.IsInf(d, 1) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable regardless of its text. WithRetry
// returns the original error unchanged after the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// NotifyFunc observes each scheduled retry before its delay elapses.
type NotifyFunc func(err error, attempt int, class Class, delay time.Duration)

// WithRetry runs op until it succeeds, fails permanently, or exhausts
// cfg.MaxRetries additional attempts. Permanent errors propagate
// unchanged after a single invocation; on exhaustion the last error is
// returned.
func WithRetry(ctx context.Context, cfg Config, op func() error) error {
	return WithRetryNotify(ctx, cfg, op, nil)
}

// WithRetryNotify is WithRetry with a per-retry callback.
func WithRetryNotify(ctx context.Context, cfg Config, op func() error, notify NotifyFunc) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		class := Categorize(err.Error())
		if class == ClassPermanent {
			return err
		}

		if attempt >= cfg.MaxRetries {
			return err
		}

		delay := Delay(attempt, cfg)
		if notify != nil {
			notify(err, attempt, class, delay)
		}
		if serr := sleepCtx(ctx, delay); serr != nil {
			return fmt.Errorf("retry aborted: %w (last error: %v)", serr, err)
		}
	}
}

// sleepCtx waits for d unless ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
