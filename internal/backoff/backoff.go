// Package backoff implements bounded exponential retry for remote calls.
//
// A Policy owns the schedule (how long to wait between attempts), a
// Classifier owns the decision (whether an error deserves another
// attempt), and Retry ties them together around an operation.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes the retry schedule for an operation.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero means a single attempt with no retry.
	MaxRetries int
	// InitialDelay is the pause before the first retry.
	InitialDelay time.Duration
	// Factor multiplies the delay after each failed attempt. Values
	// below 1 are treated as 1 (constant delay).
	Factor float64
	// MaxDelay caps a single computed delay. Zero disables the cap.
	MaxDelay time.Duration
}

// Delay returns the pause before retry number attempt (zero-based): the
// first retry waits InitialDelay, each following one Factor times more,
// the result scaled by a random jitter in [0.5, 1.5) so that parallel
// reconcilers do not hammer the remote API in lockstep.
func (p Policy) Delay(attempt int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.InitialDelay) * math.Pow(factor, float64(attempt))
	jitter := 0.5 + rand.Float64()

	d := time.Duration(base * jitter)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Classifier sorts errors into retryable and permanent using errors.Is
// against two sentinel sets. Permanent matches win over retryable ones,
// and an error matching neither set is permanent: an unknown failure
// should surface immediately instead of burning retries against it.
type Classifier struct {
	retryable []error
	permanent []error
}

// NewClassifier builds a classifier from sentinel sets. The slices are
// not copied; callers must not mutate them afterwards.
func NewClassifier(retryable, permanent []error) *Classifier {
	return &Classifier{retryable: retryable, permanent: permanent}
}

// Retryable reports whether err deserves another attempt.
func (c *Classifier) Retryable(err error) bool {
	for _, p := range c.permanent {
		if errors.Is(err, p) {
			return false
		}
	}
	for _, r := range c.retryable {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// Operation is a single attempt of a retryable unit of work.
type Operation func(ctx context.Context) error

// Observer is notified after every failed attempt with the zero-based
// attempt index, the error, and the delay before the next attempt.
// A zero delay means no further attempt follows.
type Observer func(attempt int, err error, next time.Duration)

// Retry runs op until it succeeds, the error is permanent, the policy is
// exhausted, or ctx is done. Retryable failures make MaxRetries+1
// attempts in total; permanent failures make exactly one.
//
// The returned error is the last attempt's error. If ctx ends while
// waiting between attempts, the context error is joined onto it.
func Retry(ctx context.Context, p Policy, c *Classifier, op Operation, obs Observer) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if !c.Retryable(err) || attempt >= p.MaxRetries {
			if obs != nil {
				obs(attempt, err, 0)
			}
			return err
		}

		delay := p.Delay(attempt)
		if obs != nil {
			obs(attempt, err, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

// sleep pauses for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
