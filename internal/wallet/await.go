package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by Await when the provider did not answer in time.
var ErrTimeout = errors.New("provider did not respond in time")

// Await runs call with a deadline and returns as soon as either the call
// finishes or the deadline passes, even if the provider ignores ctx. A
// timeout <= 0 only honors the parent context.
func Await[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %v", ErrTimeout, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

// Call is Await plus latency metrics for a named provider method.
func Call[T any](ctx context.Context, timeout time.Duration, m Metrics, method string, call func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := Await(ctx, timeout, call)
	if m != nil {
		m.ObserveProviderCall(method, time.Since(start), err)
	}
	return v, err
}
