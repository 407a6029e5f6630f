package clock

import (
	"context"
	"errors"
	"time"
)

// WithTimeout is context.WithTimeout measured on c. When the timer fires the
// returned context reports context.DeadlineExceeded.
func WithTimeout(parent context.Context, c Clock, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	timer := c.AfterFunc(d, func() { cancel(context.DeadlineExceeded) })
	return &timeoutCtx{Context: ctx}, func() {
		timer.Stop()
		cancel(context.Canceled)
	}
}

type timeoutCtx struct {
	context.Context
}

func (c *timeoutCtx) Err() error {
	err := c.Context.Err()
	if err == nil {
		return nil
	}
	if errors.Is(context.Cause(c.Context), context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}
