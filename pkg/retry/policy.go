// Package retry holds the bounded exponential backoff policy shared by the
// key-value backend and the Slack API client.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried. The zero value runs the
// operation exactly once.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable reports whether err is transient. Nil means nothing is retried.
	Retryable func(err error) bool
	// RetryAfter extracts a server-provided delay from err. Nil looks for a
	// RetryAfterer in the error chain.
	RetryAfter func(err error) time.Duration
}

// RetryAfterer is implemented by errors that carry a server-provided delay,
// such as an HTTP 429 with a Retry-After header.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Exponential returns a policy with a 100ms initial delay doubling up to 2s.
func Exponential(maxAttempts int, retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
		Retryable:       retryable,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, the attempt
// budget is spent, or ctx is done.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	curve := p.curve()

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := curve.NextBackOff()
		if hint := p.hint(err); hint > 0 {
			delay = hint
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}

func (p Policy) hint(err error) time.Duration {
	if p.RetryAfter != nil {
		return p.RetryAfter(err)
	}
	var hinted RetryAfterer
	if errors.As(err, &hinted) {
		return hinted.RetryAfter()
	}
	return 0
}

func (p Policy) curve() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
