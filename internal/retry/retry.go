// Package retry runs operations a bounded number of times with a fixed delay
// between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mitrarr/mitra-go/internal/errors"
)

// ErrExhausted is wrapped by the error Do returns once every attempt failed.
var ErrExhausted = errors.NewStd("retry attempts exhausted")

// Config holds the retry policy.
type Config struct {
	Attempts int           // total attempts, at least 1
	Delay    time.Duration // fixed wait between attempts
}

// DefaultConfig matches the file read policy: five attempts one second apart.
func DefaultConfig() Config {
	return Config{Attempts: 5, Delay: time.Second}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// used up or ctx is done. fn receives the 1-based attempt number.
func Do[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.Attempts, 1)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Delay), uint64(attempts-1)),
		ctx)

	var (
		attempt   int
		permanent bool
	)
	v, err := backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := fn(attempt)
		var perm *backoff.PermanentError
		permanent = errors.As(err, &perm)
		return v, err
	}, policy)

	switch {
	case err == nil:
		return v, nil
	case permanent:
		return zero, err
	case ctx.Err() != nil:
		return zero, ctx.Err()
	}
	return zero, errors.New(errors.Join(ErrExhausted, err)).
		Category(errors.CategoryRetry).
		Context("attempts", attempt).
		Build()
}
