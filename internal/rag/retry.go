package rag

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how a transient failure is retried: total attempt
// count and the exponential backoff envelope between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first.
	// Values below 1 mean a single attempt with no retry.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the exponentially growing delay.
	MaxInterval time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 8 * time.Second
	}
	return p
}

// Retry runs op under the policy, retrying only failures that classify as
// transient (see IsTransient). Permanent failures and context cancellation
// return immediately. The error returned is the one from the final attempt.
func Retry(ctx context.Context, p RetryPolicy, op func() error) error {
	p = p.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1)), ctx))
}
