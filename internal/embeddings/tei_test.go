package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTEIConfig_Validate(t *testing.T) {
	tests := []struct {
		name       string
		config     TEIConfig
		wantErr    bool
		errMessage string
	}{
		{
			name: "valid configuration",
			config: TEIConfig{
				BaseURL: "http://localhost:8080",
				Model:   "BAAI/bge-small-en-v1.5",
			},
			wantErr: false,
		},
		{
			name: "empty base URL",
			config: TEIConfig{
				Model: "BAAI/bge-small-en-v1.5",
			},
			wantErr:    true,
			errMessage: "base URL required",
		},
		{
			name: "empty model",
			config: TEIConfig{
				BaseURL: "http://localhost:8080",
			},
			wantErr:    true,
			errMessage: "model required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Contains(t, err.Error(), tt.errMessage)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewTEIProvider_DimensionDetection(t *testing.T) {
	provider, err := NewTEIProvider(TEIConfig{
		BaseURL: "http://localhost:8080",
		Model:   "BAAI/bge-small-en-v1.5",
	})
	require.NoError(t, err)
	assert.Equal(t, 384, provider.Dimension())

	override, err := NewTEIProvider(TEIConfig{
		BaseURL:   "http://localhost:8080",
		Model:     "custom-model",
		Dimension: 512,
	})
	require.NoError(t, err)
	assert.Equal(t, 512, override.Dimension())
}

// newTEITestServer serves canned vectors and captures the last request body.
func newTEITestServer(t *testing.T, vectors [][]float32) (*httptest.Server, *teiRequest, *atomic.Int64) {
	t.Helper()

	var lastRequest teiRequest
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&lastRequest))
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
	t.Cleanup(server.Close)

	return server, &lastRequest, &calls
}

func TestTEIProvider_EmbedDocuments(t *testing.T) {
	want := [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}
	server, lastRequest, _ := newTEITestServer(t, want)

	provider, err := NewTEIProvider(TEIConfig{BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)

	vectors, err := provider.EmbedDocuments(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, want, vectors)

	// The documents go over the wire as a slice with truncation enabled.
	assert.Equal(t, []any{"hello", "world"}, lastRequest.Inputs)
	assert.True(t, lastRequest.Truncate)
}

func TestTEIProvider_EmbedQuery(t *testing.T) {
	server, lastRequest, _ := newTEITestServer(t, [][]float32{{0.7, 0.8}})

	provider, err := NewTEIProvider(TEIConfig{BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)

	vector, err := provider.EmbedQuery(context.Background(), "what is rag")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.7, 0.8}, vector)

	// Queries are sent as a bare string, not a single-element slice.
	assert.Equal(t, "what is rag", lastRequest.Inputs)
}

func TestTEIProvider_EmbedQuery_EmptyResponse(t *testing.T) {
	server, _, _ := newTEITestServer(t, [][]float32{})

	provider, err := NewTEIProvider(TEIConfig{BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)

	_, err = provider.EmbedQuery(context.Background(), "query")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "empty response")
}

func TestTEIProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	provider, err := NewTEIProvider(TEIConfig{BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)

	_, err = provider.EmbedDocuments(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestTEIProvider_EmptyInput(t *testing.T) {
	server, _, calls := newTEITestServer(t, nil)

	provider, err := NewTEIProvider(TEIConfig{BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)

	_, err = provider.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = provider.EmbedDocuments(context.Background(), []string{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = provider.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	// Validation failures never reach the server.
	assert.Equal(t, int64(0), calls.Load())
}

func TestTEIProvider_ContextCancellation(t *testing.T) {
	server, _, _ := newTEITestServer(t, [][]float32{{0.1}})

	provider, err := NewTEIProvider(TEIConfig{BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = provider.EmbedDocuments(ctx, []string{"text"})
	assert.Error(t, err)
}

func TestTEIProvider_RateLimiter(t *testing.T) {
	unlimited, err := NewTEIProvider(TEIConfig{BaseURL: "http://localhost:8080", Model: "m"})
	require.NoError(t, err)
	assert.Nil(t, unlimited.limiter)

	limited, err := NewTEIProvider(TEIConfig{BaseURL: "http://localhost:8080", Model: "m", RequestsPerSecond: 10})
	require.NoError(t, err)
	require.NotNil(t, limited.limiter)
	assert.InDelta(t, 10.0, float64(limited.limiter.Limit()), 0.001)
}

func TestTEIProvider_Close(t *testing.T) {
	provider, err := NewTEIProvider(TEIConfig{BaseURL: "http://localhost:8080", Model: "m"})
	require.NoError(t, err)
	assert.NoError(t, provider.Close())
}
