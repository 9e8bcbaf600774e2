package internal

import (
	"context"
	"fmt"
	"time"
)

// Probe checks an external condition, typically over the network.
type Probe func(ctx context.Context) error

// UntilSuccess calls probe until it succeeds once. Failures are swallowed and
// the probe is retried immediately: pacing and timeouts are the probe's job.
// It only gives up when ctx is cancelled.
func UntilSuccess(ctx context.Context, probe Probe) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := safely(ctx, probe); err == nil {
			return nil
		}
	}
}

// UntilFailure calls probe until it fails once, retrying immediately on success.
// It only gives up when ctx is cancelled; a probe failing because of the
// cancellation does not count.
func UntilFailure(ctx context.Context, probe Probe) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := safely(ctx, probe); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return nil
		}
	}
}

// Paced wraps probe so that every call after the first one waits for interval.
func Paced(interval time.Duration, probe Probe) Probe {
	first := true
	return func(ctx context.Context) error {
		if !first {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		first = false
		return probe(ctx)
	}
}

// safely runs probe, turning a panic into a failure.
func safely(ctx context.Context, probe Probe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return probe(ctx)
}

// Retry calls fn up to maxAttempts times with exponential backoff
// (100ms, 200ms, 400ms, 800ms, ...). Returns the last error if all attempts fail.
func Retry(maxAttempts int, fn func() error) error {
	_, err := RetryResult(maxAttempts, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryResult is like Retry but for functions that return a value.
func RetryResult[T any](maxAttempts int, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < maxAttempts; i++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		if i < maxAttempts-1 {
			time.Sleep(time.Duration(100*(1<<i)) * time.Millisecond)
		}
	}
	return result, err
}
