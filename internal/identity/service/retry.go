package service

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
)

// storeCall runs op under a per-attempt timeout and retries transient store failures with
// exponential backoff. Non-transient errors return immediately. When retries run out the
// error is ErrTransient wrapping the last failure.
func storeCall[T any](ctx context.Context, s *AuthService, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryBaseDelay
	b.MaxInterval = 20 * s.opts.RetryBaseDelay
	b.RandomizationFactor = 0.2

	attempt := func() (T, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()
		v, err := op(callCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if store.IsTransient(err) {
			return v, err
		}
		return v, backoff.Permanent(err)
	}
	v, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.StoreRetries)+1),
	)
	if err == nil {
		return v, nil
	}
	if store.IsTransient(err) && ctx.Err() == nil {
		return v, withCause(ErrTransient, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return v, withCause(ErrTransient, err)
	}
	return v, err
}

// storeExec is storeCall for operations without a result.
func storeExec(ctx context.Context, s *AuthService, op func(ctx context.Context) error) error {
	_, err := storeCall(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// internal wraps an unexpected failure. Taxonomy errors pass through unchanged.
func internal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return withCause(ErrInternal, err)
}
