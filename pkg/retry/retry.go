// Package retry runs an operation with a bounded number of attempts and an
// exponential backoff between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/paulschiretz/pgl-snap/pkg/plog"
)

// ErrExhausted is matched by the error returned after the last failed attempt.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds a retry loop. The wait before attempt n (n >= 2) is
// Base * 2^(n-2).
type Policy struct {
	Attempts int
	Base     time.Duration
	// Permanent, if set, stops the loop early for errors it reports true for.
	Permanent func(error) bool
}

// DefaultPolicy tries five times starting with a 100ms wait.
var DefaultPolicy = Policy{Attempts: 5, Base: 100 * time.Millisecond}

// newTimer is a var to allow tests to skip real sleeps. nil uses a real timer.
var newTimer func() backoff.Timer

// backOff translates p into an attempt-bounded, jitter-free exponential backoff.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Hour
	// The attempt count is the only bound.
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := uint64(max(p.Attempts, 1) - 1)
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// Do calls fn until it succeeds, returns a permanent error, the context is
// canceled or the attempts are used up.
func Do(ctx context.Context, opName string, p Policy, fn func(ctx context.Context) error) error {
	var (
		calls     int
		lastErr   error
		permanent bool
		timer     backoff.Timer
	)
	if newTimer != nil {
		timer = newTimer()
	}

	err := backoff.RetryNotifyWithTimer(func() error {
		calls++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.Permanent != nil && p.Permanent(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), func(err error, next time.Duration) {
		plog.Debug("Retrying operation", "op", opName, "attempt", calls, "backoff", next, "error", err)
	}, timer)

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case permanent:
		return fmt.Errorf("%s failed permanently: %w", opName, lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", opName, calls, errors.Join(ErrExhausted, lastErr))
}
