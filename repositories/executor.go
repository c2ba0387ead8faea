package repositories

import (
	"chat-hub/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	DefaultTimeout    = 3 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 50 * time.Millisecond
)

// Executor bounds every storage call with a deadline and retries transient Badger failures.
// A call that does not finish in time is reported as unavailable; the write itself may still land.
type Executor struct {
	log        *slog.Logger
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
}

func NewExecutor(log *slog.Logger, timeout time.Duration, maxRetries int, backoff time.Duration) Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return Executor{log: log, timeout: timeout, maxRetries: maxRetries, backoff: backoff}
}

// Do runs fn until it succeeds, fails with a non transient error, the retries are exhausted or the deadline passes.
func (e Executor) Do(ctx context.Context, op string, fn func() error) error {
	_, err := Query(ctx, e, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

type outcome[T any] struct {
	value T
	err   error
}

// Query is Do for operations producing a value. The value travels back with the attempt's
// result, so an attempt abandoned on timeout never hands anything to the caller.
func Query[T any](ctx context.Context, e Executor, op string, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		zero T
		err  error
	)
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.log.Warn("Retrying storage operation", "op", op, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%w: %s timed out", errors.ErrUnavailable, op)
			case <-time.After(time.Duration(attempt) * e.backoff):
			}
		}

		done := make(chan outcome[T], 1)
		go func() {
			v, err := fn()
			done <- outcome[T]{value: v, err: err}
		}()

		select {
		case <-ctx.Done():
			e.log.Error("Storage operation timed out", "op", op, "timeout", e.timeout)
			return zero, fmt.Errorf("%w: %s timed out", errors.ErrUnavailable, op)
		case out := <-done:
			if out.err == nil {
				return out.value, nil
			}
			if !isTransient(out.err) {
				return zero, out.err
			}
			err = out.err
		}
	}
	return zero, fmt.Errorf("%w: %s: %v", errors.ErrUnavailable, op, err)
}

// isTransient lists the Badger failures a fresh attempt of the same transaction can get past.
func isTransient(err error) bool {
	return errors.Is(err, badger.ErrConflict) ||
		errors.Is(err, badger.ErrBlockedWrites)
}
