package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

// bind runs open with a deadline. A handle that arrives after the deadline is
// closed in the background so a slow device never leaks a stream.
func bind[T io.Closer](ctx context.Context, timeout time.Duration, open func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return open(ctx)
	}

	bindCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		handle T
		err    error
	}
	results := make(chan result, 1)
	go func() {
		handle, err := open(bindCtx)
		results <- result{handle: handle, err: err}
	}()

	select {
	case r := <-results:
		return r.handle, r.err
	case <-bindCtx.Done():
		go func() {
			if r := <-results; r.err == nil {
				_ = r.handle.Close()
			}
		}()
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrBindTimeout, timeout)
	}
}
