package batch

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/ordokr/lms-syncd/internal/vclock"
)

// RetryingAdapter wraps an Adapter with exponential-backoff retry on
// Transient AdapterErrors (spec.md §4.6 "Adapter errors on send: do not flip
// synced; retry on next scheduler tick with exponential backoff"). The
// scheduler still drives the outer retry cadence (one attempt per tick); this
// wrapper absorbs transient failures within a single tick's attempt so a
// flaky connection blip doesn't immediately surface as a tick failure.
type RetryingAdapter struct {
	Adapter
	NewBackOff func() backoff.BackOff
}

// NewRetryingAdapter wraps inner with a default exponential backoff policy
// (at most 3 retries after the first attempt, so 4 attempts within one tick,
// matching the original Rust sync_manager's
// "a handful of immediate retries before deferring to the next scheduled
// pass" behavior).
func NewRetryingAdapter(inner Adapter) *RetryingAdapter {
	return &RetryingAdapter{
		Adapter: inner,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

func (r *RetryingAdapter) Send(ctx context.Context, b *Batch) ([]string, error) {
	var acked []string
	err := backoff.Retry(func() error {
		var sendErr error
		acked, sendErr = r.Adapter.Send(ctx, b)
		if ae, ok := sendErr.(*AdapterError); ok && ae.Kind == Transient {
			return sendErr
		}
		if sendErr != nil {
			return backoff.Permanent(sendErr)
		}
		return nil
	}, backoff.WithContext(r.NewBackOff(), ctx))
	if err != nil {
		if pe, ok := err.(*backoff.PermanentError); ok {
			return nil, pe.Err
		}
		return nil, err
	}
	return acked, nil
}

func (r *RetryingAdapter) Receive(ctx context.Context, since vclock.Vector) (*Batch, error) {
	var b *Batch
	err := backoff.Retry(func() error {
		var recvErr error
		b, recvErr = r.Adapter.Receive(ctx, since)
		if ae, ok := recvErr.(*AdapterError); ok && ae.Kind == Transient {
			return recvErr
		}
		if recvErr != nil {
			return backoff.Permanent(recvErr)
		}
		return nil
	}, backoff.WithContext(r.NewBackOff(), ctx))
	if err != nil {
		if pe, ok := err.(*backoff.PermanentError); ok {
			return nil, pe.Err
		}
		return nil, err
	}
	return b, nil
}
