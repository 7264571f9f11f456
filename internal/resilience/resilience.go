// Package resilience provides the two retry disciplines the archiver needs:
//   - Bounded: a fixed number of attempts with a hook between them
//   - Forever: exponential backoff that only stops on success, a permanent error, or cancellation
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhaustedRetries indicates retry attempts were exhausted
var ErrExhaustedRetries = errors.New("retry attempts exhausted")

// BoundedConfig holds configuration for Bounded.
type BoundedConfig struct {
	MaxAttempts int
	// Retryable decides whether a failed attempt may be repeated.
	// A nil Retryable treats every error as retryable.
	Retryable func(error) bool
	// BeforeRetry runs between attempts with the error that triggered the retry.
	// Returning an error aborts the loop with that error.
	BeforeRetry func(ctx context.Context, attempt int, err error) error
}

// Result describes how a Bounded run ended.
type Result struct {
	Attempts  int
	Exhausted bool
	Err       error
}

// Bounded runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. The returned Result.Err wraps ErrExhaustedRetries
// in the last case.
func Bounded(ctx context.Context, cfg BoundedConfig, op func(ctx context.Context, attempt int) error) Result {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1, Err: err}
		}

		err := op(ctx, attempt)
		if err == nil {
			return Result{Attempts: attempt}
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return Result{Attempts: attempt, Err: err}
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if cfg.BeforeRetry != nil {
			if hookErr := cfg.BeforeRetry(ctx, attempt, err); hookErr != nil {
				return Result{Attempts: attempt, Err: hookErr}
			}
		}
	}

	return Result{
		Attempts:  cfg.MaxAttempts,
		Exhausted: true,
		Err:       fmt.Errorf("%w after %d attempts: %w", ErrExhaustedRetries, cfg.MaxAttempts, lastErr),
	}
}

// BackoffConfig holds configuration for Forever.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultBackoffConfig starts at one minute and doubles each time.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Minute,
		MaxInterval:     24 * time.Hour,
		Multiplier:      2,
	}
}

// Forever retries op with exponential backoff and no attempt or time limit.
// Errors for which retryable returns false end the loop immediately.
// notify, when set, is called before every wait.
func Forever(
	ctx context.Context,
	cfg BackoffConfig,
	retryable func(error) bool,
	notify func(err error, wait time.Duration),
	op func(ctx context.Context) error,
) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	attempt := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || (retryable != nil && !retryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	var n backoff.Notify
	if notify != nil {
		n = func(err error, wait time.Duration) { notify(err, wait) }
	}
	return backoff.RetryNotify(attempt, backoff.WithContext(b, ctx), n)
}
