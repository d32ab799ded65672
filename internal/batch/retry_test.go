package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordokr/lms-syncd/internal/vclock"
)

type flakyAdapter struct {
	Self     vclock.ReplicaId
	attempts int
	failN    int
}

func (f *flakyAdapter) ReplicaID() vclock.ReplicaId { return f.Self }

func (f *flakyAdapter) Send(ctx context.Context, b *Batch) ([]string, error) {
	f.attempts++
	if f.attempts <= f.failN {
		return nil, &AdapterError{Kind: Transient}
	}
	return []string{"ok"}, nil
}

func (f *flakyAdapter) Receive(ctx context.Context, since vclock.Vector) (*Batch, error) {
	return New(f.Self, "", nil, vclock.New()), nil
}

func TestRetryingAdapterRetriesTransientFailures(t *testing.T) {
	inner := &flakyAdapter{Self: "A", failN: 2}
	r := NewRetryingAdapter(inner)
	r.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)
	}

	acked, err := r.Send(context.Background(), New("A", "B", nil, vclock.New()))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, acked)
	assert.Equal(t, 3, inner.attempts)
}

type alwaysAuthFailAdapter struct{ vclock.ReplicaId }

func (a alwaysAuthFailAdapter) ReplicaID() vclock.ReplicaId { return a.ReplicaId }
func (a alwaysAuthFailAdapter) Send(ctx context.Context, b *Batch) ([]string, error) {
	return nil, &AdapterError{Kind: AuthFailure}
}
func (a alwaysAuthFailAdapter) Receive(ctx context.Context, since vclock.Vector) (*Batch, error) {
	return nil, &AdapterError{Kind: AuthFailure}
}

func TestRetryingAdapterDoesNotRetryNonTransientFailures(t *testing.T) {
	r := NewRetryingAdapter(alwaysAuthFailAdapter{"A"})
	r.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)
	}

	_, err := r.Send(context.Background(), New("A", "B", nil, vclock.New()))
	require.Error(t, err)
	var ae *AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, AuthFailure, ae.Kind)
}
