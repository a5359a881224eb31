package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum spacing between calls to an upstream API.
// A single Limiter is shared by all workers hitting the same endpoint
// class, so concurrency cannot compress the spacing below the interval.
type Limiter interface {
	// Wait blocks until the next call is allowed or ctx is done.
	Wait(ctx context.Context) error
	// Interval returns the configured minimum spacing.
	Interval() time.Duration
}

type intervalLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewInterval returns a Limiter with the given minimum spacing between
// calls. Every call pays the interval, including the first, so N waits
// account for at least N intervals of wall-clock time. A non-positive
// interval returns a limiter that never waits.
func NewInterval(interval time.Duration) Limiter {
	if interval <= 0 {
		return nopLimiter{}
	}
	l := rate.NewLimiter(rate.Every(interval), 1)
	l.Allow() // drain the initial token so the first Wait blocks too
	return &intervalLimiter{limiter: l, interval: interval}
}

func (l *intervalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *intervalLimiter) Interval() time.Duration {
	return l.interval
}

type nopLimiter struct{}

func (nopLimiter) Wait(ctx context.Context) error {
	return ctx.Err()
}

func (nopLimiter) Interval() time.Duration {
	return 0
}
