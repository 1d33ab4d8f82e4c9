package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// flakyStore fails a fixed number of times before delegating to an
// in-memory store.
type flakyStore struct {
	inner             *MemoryStore
	failWith          error
	failuresRemaining int
	calls             int
}

func newFlakyStore(failures int, failWith error) *flakyStore {
	return &flakyStore{
		inner:             NewMemoryStore(newFakeEmbedder(2), zap.NewNop()),
		failWith:          failWith,
		failuresRemaining: failures,
	}
}

func (f *flakyStore) fail() error {
	f.calls++
	if f.failuresRemaining > 0 {
		f.failuresRemaining--
		return f.failWith
	}
	return nil
}

func (f *flakyStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.inner.AddDocuments(ctx, docs)
}

func (f *flakyStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, opts ...SearchOption) ([]Document, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.inner.SimilaritySearch(ctx, queryEmbedding, topK, opts...)
}

func (f *flakyStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.DeleteDocuments(ctx, ids)
}

func (f *flakyStore) Count(ctx context.Context) (int, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.inner.Count(ctx)
}

func (f *flakyStore) Reset(ctx context.Context) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.Reset(ctx)
}

func (f *flakyStore) HealthCheck(ctx context.Context) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.HealthCheck(ctx)
}

func (f *flakyStore) Close() error {
	f.calls++
	return nil
}

var _ Store = (*flakyStore)(nil)

func fastRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetryStore_RetriesTransientErrors(t *testing.T) {
	flaky := newFlakyStore(2, status.Error(grpccodes.Unavailable, "backend down"))
	store := NewRetryStore(flaky, fastRetryPolicy(3), zap.NewNop())

	ids, err := store.AddDocuments(context.Background(), []Document{
		{ID: "a", Content: "text", Embedding: []float32{1, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
	assert.Equal(t, 3, flaky.calls, "two failures plus the success")
}

func TestRetryStore_DoesNotRetryPermanentErrors(t *testing.T) {
	permanent := fmt.Errorf("%w: malformed batch", ErrStorageFailed)
	flaky := newFlakyStore(10, permanent)
	store := NewRetryStore(flaky, fastRetryPolicy(5), zap.NewNop())

	_, err := store.AddDocuments(context.Background(), []Document{
		{ID: "a", Content: "text", Embedding: []float32{1, 0}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFailed)
	assert.Equal(t, 1, flaky.calls, "permanent errors must not be retried")
}

func TestRetryStore_ExhaustsAttempts(t *testing.T) {
	transient := status.Error(grpccodes.Unavailable, "still down")
	flaky := newFlakyStore(10, transient)
	store := NewRetryStore(flaky, fastRetryPolicy(3), zap.NewNop())

	err := store.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.True(t, IsTransientError(err), "original error stays in the chain")
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryStore_ContextCancelAbortsBackoff(t *testing.T) {
	flaky := newFlakyStore(10, status.Error(grpccodes.Unavailable, "down"))
	store := NewRetryStore(flaky, RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Minute, // the test must not actually wait
		MaxBackoff:     time.Minute,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Reset(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, flaky.calls, "backoff wait must abort without another attempt")
}

func TestRetryStore_CloseIsNotRetried(t *testing.T) {
	flaky := newFlakyStore(0, nil)
	store := NewRetryStore(flaky, fastRetryPolicy(3), zap.NewNop())

	require.NoError(t, store.Close())
	assert.Equal(t, 1, flaky.calls)
	assert.Same(t, Store(flaky), store.Underlying())
}

func TestNewRetryStore_AppliesDefaults(t *testing.T) {
	store := NewRetryStore(newFlakyStore(0, nil), RetryPolicy{}, nil)

	assert.Equal(t, 3, store.policy.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, store.policy.InitialBackoff)
	assert.Equal(t, 5*time.Second, store.policy.MaxBackoff)
	assert.NotNil(t, store.policy.Classify)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unavailable", err: status.Error(grpccodes.Unavailable, "x"), want: true},
		{name: "deadline exceeded", err: status.Error(grpccodes.DeadlineExceeded, "x"), want: true},
		{name: "aborted", err: status.Error(grpccodes.Aborted, "x"), want: true},
		{name: "resource exhausted", err: status.Error(grpccodes.ResourceExhausted, "x"), want: true},
		{name: "invalid argument", err: status.Error(grpccodes.InvalidArgument, "x"), want: false},
		{name: "not found", err: status.Error(grpccodes.NotFound, "x"), want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "wrapped connection failure", err: fmt.Errorf("%w: dial tcp", ErrConnectionFailed), want: true},
		{
			name: "grpc status nested in sentinel wrap",
			err:  fmt.Errorf("%w: upsert: %w", ErrStorageFailed, status.Error(grpccodes.Unavailable, "x")),
			want: true,
		},
		{name: "storage failure", err: fmt.Errorf("%w: bad input", ErrStorageFailed), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}
