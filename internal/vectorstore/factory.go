package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/config"
)

// NewStore builds the configured Store implementation. When retries are
// enabled in the configuration, the store is wrapped in a RetryStore.
func NewStore(ctx context.Context, cfg *config.Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	vs := cfg.VectorStore

	var (
		store Store
		err   error
	)
	switch vs.Provider {
	case config.ProviderMemory:
		store = NewMemoryStore(embedder, logger)
	case config.ProviderQdrant:
		store, err = NewQdrantStore(ctx, QdrantConfig{
			Endpoint:   vs.Qdrant.Endpoint,
			APIKey:     vs.Qdrant.Token,
			Collection: vs.Qdrant.Collection,
			Keyspace:   vs.Qdrant.Keyspace,
			Dimension:  uint64(vs.Qdrant.Dimension),
		}, embedder, logger)
	case config.ProviderChromem:
		store, err = NewChromemStore(ChromemConfig{
			Path:       vs.Chromem.Path,
			Compress:   vs.Chromem.Compress,
			Collection: vs.Chromem.Collection,
		}, embedder, logger)
	case config.ProviderPgvector:
		store, err = NewPgvectorStore(ctx, PgvectorConfig{
			DSN:       vs.Pgvector.DSN,
			Table:     vs.Pgvector.Table,
			Dimension: vs.Pgvector.Dimension,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, vs.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("vector store initialized", zap.String("provider", vs.Provider))

	if vs.Retry.Enabled {
		store = NewRetryStore(store, RetryPolicy{
			MaxAttempts:    vs.Retry.MaxAttempts,
			InitialBackoff: vs.Retry.InitialBackoff,
			MaxBackoff:     vs.Retry.MaxBackoff,
		}, logger)
		logger.Info("vector store retries enabled",
			zap.Int("max_attempts", vs.Retry.MaxAttempts),
		)
	}

	return store, nil
}
