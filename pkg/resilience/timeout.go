package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds one source fetch with its own deadline, independent of
// the orchestrator-level run deadline. A non-positive timeout runs fn under
// the caller's context unchanged. When the budget is exceeded the returned
// error wraps context.DeadlineExceeded so callers can classify it; the
// in-flight call is abandoned, not interrupted.
func WithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: cancelled: %w", op, ctx.Err())
		}
		return fmt.Errorf("%s: %w after %v", op, context.DeadlineExceeded, timeout)
	}
}
