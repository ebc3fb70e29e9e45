// Package limiter throttles repeated failed sign-in attempts.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks failed sign-ins per (email, origin) and places temporary blocks.
type Limiter interface {
	// Allow reports whether a sign-in may be attempted now and, if not, for how long it stays blocked.
	Allow(ctx context.Context, email string, origin []byte) (bool, time.Duration, error)
	// Success clears the failure counter.
	Success(ctx context.Context, email string, origin []byte) error
	// Failure records a failed attempt and reports whether it triggered a block.
	Failure(ctx context.Context, email string, origin []byte) (bool, time.Duration, error)
}

// Nop never blocks.
type Nop struct{}

func (Nop) Allow(context.Context, string, []byte) (bool, time.Duration, error) { return true, 0, nil }
func (Nop) Success(context.Context, string, []byte) error                      { return nil }
func (Nop) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	return false, 0, nil
}
