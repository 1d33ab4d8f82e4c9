package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "openai" or "tei".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL overrides the provider's default endpoint. Required for TEI.
	BaseURL string
	// APIKey authenticates against the provider. Optional for TEI and
	// OpenAI-compatible local servers.
	APIKey string
	// Dimension overrides model dimension detection when positive.
	Dimension int
	// RequestsPerSecond caps outbound embedding requests. Zero disables
	// the limit.
	RequestsPerSecond float64
}

// modelDimensions maps known embedding models to their vector sizes.
var modelDimensions = map[string]int{
	"text-embedding-3-small":       1536,
	"text-embedding-3-large":       3072,
	"text-embedding-ada-002":       1536,
	"BAAI/bge-small-en-v1.5":       384,
	"BAAI/bge-base-en-v1.5":        768,
	"BAAI/bge-large-en-v1.5":       1024,
	"Alibaba-NLP/gte-base-en-v1.5": 768,
	"nomic-embed-text":             768,
	"all-MiniLM-L6-v2":             384,
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Unknown models fall back to name patterns, then to 1536 (the OpenAI
// text-embedding-3-small size).
func detectDimensionFromModel(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "small"), strings.Contains(model, "mini"), strings.Contains(model, "MiniLM"):
		return 384
	default:
		return 1536
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(OpenAIConfig{
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Dimension:         cfg.Dimension,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case "tei":
		return NewTEIProvider(TEIConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimension:         cfg.Dimension,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// newLimiter builds a rate limiter for the configured request rate, or nil
// when unlimited.
func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

// waitForLimiter blocks until the limiter grants a slot. A nil limiter
// means no limit.
func waitForLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", ErrEmbeddingFailed, err)
	}
	return nil
}
