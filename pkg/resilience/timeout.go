package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn under a context cancelled after timeout. fn keeps
// running in the background if it ignores its context; the caller gets
// context.DeadlineExceeded at the deadline either way. A non-positive
// timeout runs fn inline.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(timeoutCtx) }()
	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s: %w after %v", name, context.DeadlineExceeded, timeout)
	}
}
