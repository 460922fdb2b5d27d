package debugproxy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryGet calls factory with exponential back-off until it succeeds, ctx is
// done, or maxElapsed passes.
func retryGet[T any](ctx context.Context, maxElapsed time.Duration, factory func() (T, error)) (T, error) {
	var lastAttemptErr error

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = maxElapsed

	retval, err := backoff.RetryNotifyWithData(
		factory,
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			lastAttemptErr = err
		},
	)

	switch {
	case err != nil && ctx.Err() != nil && lastAttemptErr != nil:
		// Inform the caller about the cancellation AND the last attempt error.
		return *new(T), errors.Join(lastAttemptErr, err)
	case err != nil:
		return *new(T), err
	default:
		return retval, nil
	}
}
