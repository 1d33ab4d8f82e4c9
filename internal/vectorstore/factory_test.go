package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/config"
)

func TestNewStore_NilConfig(t *testing.T) {
	_, err := NewStore(context.Background(), nil, newFakeEmbedder(2), zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewStore_Memory(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.VectorStore.Provider = config.ProviderMemory

	store, err := NewStore(context.Background(), cfg, newFakeEmbedder(2), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &MemoryStore{}, store)
}

func TestNewStore_Chromem(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.VectorStore.Provider = config.ProviderChromem
	cfg.VectorStore.Chromem.Path = filepath.Join(t.TempDir(), "store")
	cfg.VectorStore.Chromem.Collection = "docs"

	store, err := NewStore(context.Background(), cfg, newFakeEmbedder(2), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &ChromemStore{}, store)
}

func TestNewStore_UnknownProvider(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.VectorStore.Provider = "faiss"

	_, err := NewStore(context.Background(), cfg, newFakeEmbedder(2), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Contains(t, err.Error(), "faiss")
}

func TestNewStore_WrapsWithRetryWhenEnabled(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.VectorStore.Provider = config.ProviderMemory
	cfg.VectorStore.Retry.Enabled = true

	store, err := NewStore(context.Background(), cfg, newFakeEmbedder(2), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	retryStore, ok := store.(*RetryStore)
	require.True(t, ok, "expected a RetryStore wrapper, got %T", store)
	assert.IsType(t, &MemoryStore{}, retryStore.Underlying())
}
