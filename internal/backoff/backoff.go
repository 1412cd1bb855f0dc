// Package backoff provides the cancellable, clock-driven delay primitive
// the Download Engine's scheduled path uses to wait out a download delay
// without blocking on a real sleep in tests.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/jacobfgrant/reconciler/internal/clock"
)

// ErrCancelled is returned by WaitTimer when cancel fires before the
// timer and before ctx is done.
var ErrCancelled = errors.New("backoff: wait cancelled")

// Wait blocks until d elapses on c, or ctx is cancelled, whichever comes
// first. It returns ctx.Err() on cancellation, nil otherwise.
func Wait(ctx context.Context, c clock.Clock, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := c.NewTimer(d)
	defer timer.Stop()

	return WaitTimer(ctx, timer, nil)
}

// WaitTimer blocks until timer fires, ctx is cancelled, or cancel is
// closed, whichever comes first. It returns ctx.Err() on context
// cancellation, ErrCancelled when cancel fires, and nil when the timer
// fires. Callers that need to evict a pending wait from outside ctx
// (e.g. a duplicate request taking over the destination) pass their own
// cancel channel; callers that only care about ctx pass nil.
func WaitTimer(ctx context.Context, timer clock.Timer, cancel <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cancel:
		return ErrCancelled
	case <-timer.C():
		return nil
	}
}
