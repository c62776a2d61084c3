// Package retry provides a retry policy value that wraps calls to remote
// collaborators with bounded exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMultiplier  = 2.0
	DefaultJitter      = 0.1
)

// Retryable decides whether an error is worth another attempt.
type Retryable func(err error) bool

// Policy describes how often and how patiently an operation is retried.
// The zero value performs a single attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the delay before jitter is applied. Zero means uncapped.
	MaxDelay time.Duration
	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64
	// Jitter randomizes every delay d within [d*(1-Jitter), d*(1+Jitter)].
	Jitter float64
	// Retryable classifies errors. Nil retries every error.
	Retryable Retryable
}

// DefaultPolicy returns the policy used when nothing else is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      DefaultJitter,
	}
}

func (p Policy) backOff() backoff.BackOff {
	if p.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = max(p.Multiplier, 1.0)
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.Reset()
	return b
}

// Delay returns the delay to wait after the given failed attempt (1-based)
// before the next one.
func (p Policy) Delay(attempt int) time.Duration {
	b := p.backOff()
	var d time.Duration
	for range max(attempt, 1) {
		d = b.NextBackOff()
	}
	return d
}

// ExhaustedError is returned when all attempts failed with retryable errors.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. Exhaustion is reported as *ExhaustedError
// wrapping the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is like Do but returns the value produced by the successful call.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)

	var (
		tries     int
		lastErr   error
		permanent bool
	)
	operation := func() (T, error) {
		tries++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.DebugContext(ctx, "retrying after transient error", "attempt", tries, "delay", delay, "error", err)
		}),
	)
	switch {
	case err == nil:
		return result, nil
	case permanent:
		return result, lastErr
	case ctx.Err() != nil:
		return result, errors.Join(lastErr, ctx.Err())
	default:
		return result, &ExhaustedError{Attempts: tries, Err: lastErr}
	}
}
