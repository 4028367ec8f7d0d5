// Package timeout races an operation against a deadline.
package timeout

import (
	"context"
	"time"

	"switchboard/pkg/agent/agenterrors"
)

// Run executes fn with a context that is cancelled after d. If the deadline passes first a
// TIMEOUT error is returned immediately; fn keeps running until it observes cancellation
// and its result is discarded. A non-positive d runs fn without a deadline.
func Run(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		if err != nil && tctx.Err() != nil {
			return expired(ctx, op, d)
		}
		return err
	case <-tctx.Done():
		return expired(ctx, op, d)
	}
}

func expired(parent context.Context, op string, d time.Duration) error {
	if err := parent.Err(); err != nil {
		return err //nolint:wrapcheck // Caller's own cancellation
	}
	return agenterrors.Newf(agenterrors.KindTimeout, op, "processing timed out after %v", d)
}
