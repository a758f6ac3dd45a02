// Package retry runs fallible network calls with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultBase     = time.Second
	DefaultMax      = 10 * time.Second

	// jitterFraction is the largest share of a delay added as jitter.
	jitterFraction = 0.25
)

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately instead of retrying.
// Permanent(nil) returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy describes how often and how patiently to retry. Zero fields take
// the package defaults.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration

	// OnRetry, when set, is called before each wait with the failed attempt
	// number (starting at 1), its error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	return p
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done. A Permanent error is returned unwrapped; otherwise the
// last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == p.Attempts-1 {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// Delay is the wait after the given zero-based attempt: Base doubled per
// attempt, capped at Max, plus up to 25% jitter.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()

	delay := p.Max
	if attempt < 32 {
		if d := p.Base << attempt; d > 0 && d < p.Max {
			delay = d
		}
	}
	return delay + time.Duration(float64(delay)*jitterFraction*rand.Float64())
}

// Do is Policy{Attempts: attempts}.Do.
func Do(ctx context.Context, attempts int, fn func() error) error {
	return Policy{Attempts: attempts}.Do(ctx, fn)
}
