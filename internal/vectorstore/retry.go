package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsTransientError reports whether an error looks like a transient backend
// failure worth retrying: a gRPC Unavailable, DeadlineExceeded, Aborted, or
// ResourceExhausted status anywhere in the chain, or a wrapped
// ErrConnectionFailed. Validation and storage errors are permanent.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case grpccodes.Unavailable, grpccodes.DeadlineExceeded,
			grpccodes.Aborted, grpccodes.ResourceExhausted:
			return true
		}
	}
	return errors.Is(err, ErrConnectionFailed)
}

// RetryPolicy controls the RetryStore decorator.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt; it doubles
	// each retry up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Classify reports whether an error should be retried.
	// Nil selects IsTransientError.
	Classify func(error) bool
}

// DefaultRetryPolicy returns the policy used when fields are zero:
// 3 attempts, 100ms initial backoff doubling to a 5s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Classify:       IsTransientError,
	}
}

func (p *RetryPolicy) applyDefaults() {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaults.MaxBackoff
	}
	if p.Classify == nil {
		p.Classify = defaults.Classify
	}
}

// RetryStore decorates a Store with bounded exponential-backoff retries on
// transient failures. Base stores never retry internally; wrap one with
// NewRetryStore when the deployment wants automatic retries.
type RetryStore struct {
	store  Store
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryStore wraps a store with the given retry policy. Zero-valued
// policy fields fall back to DefaultRetryPolicy.
func NewRetryStore(store Store, policy RetryPolicy, logger *zap.Logger) *RetryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.applyDefaults()
	return &RetryStore{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Underlying returns the wrapped store.
func (s *RetryStore) Underlying() Store {
	return s.store
}

// do runs fn up to MaxAttempts times, backing off between attempts.
// Non-retryable errors return immediately; context cancellation aborts the
// backoff wait.
func (s *RetryStore) do(ctx context.Context, operation string, fn func() error) error {
	backoff := s.policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !s.policy.Classify(lastErr) {
			return lastErr
		}
		if attempt == s.policy.MaxAttempts {
			break
		}

		s.logger.Warn("retrying vector store operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.policy.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.policy.MaxBackoff {
			backoff = s.policy.MaxBackoff
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, s.policy.MaxAttempts, lastErr)
}

func (s *RetryStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	var ids []string
	err := s.do(ctx, "add documents", func() error {
		var opErr error
		ids, opErr = s.store.AddDocuments(ctx, docs)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *RetryStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, opts ...SearchOption) ([]Document, error) {
	var results []Document
	err := s.do(ctx, "similarity search", func() error {
		var opErr error
		results, opErr = s.store.SimilaritySearch(ctx, queryEmbedding, topK, opts...)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *RetryStore) DeleteDocuments(ctx context.Context, ids []string) error {
	return s.do(ctx, "delete documents", func() error {
		return s.store.DeleteDocuments(ctx, ids)
	})
}

func (s *RetryStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.do(ctx, "count documents", func() error {
		var opErr error
		count, opErr = s.store.Count(ctx)
		return opErr
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *RetryStore) Reset(ctx context.Context) error {
	return s.do(ctx, "reset store", func() error {
		return s.store.Reset(ctx)
	})
}

func (s *RetryStore) HealthCheck(ctx context.Context) error {
	return s.do(ctx, "health check", func() error {
		return s.store.HealthCheck(ctx)
	})
}

// Close releases the wrapped store without retrying.
func (s *RetryStore) Close() error {
	return s.store.Close()
}

// Ensure RetryStore implements Store interface.
var _ Store = (*RetryStore)(nil)
