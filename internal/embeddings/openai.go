package embeddings

import (
	"context"
	"fmt"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAIConfig holds configuration for the OpenAI embedding provider.
type OpenAIConfig struct {
	// Model is the embedding model, e.g. "text-embedding-3-small".
	Model string

	// BaseURL overrides the OpenAI endpoint. Any OpenAI-compatible server
	// works (Ollama, LM Studio, vLLM).
	BaseURL string

	// APIKey authenticates the client. Optional for keyless local servers.
	APIKey string

	// Dimension overrides model dimension detection when positive.
	Dimension int

	// RequestsPerSecond caps outbound requests. Zero disables the limit.
	RequestsPerSecond float64
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// OpenAIProvider generates embeddings through langchaingo's OpenAI client.
type OpenAIProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	config    OpenAIConfig
	dimension int
	limiter   *rate.Limiter
	metrics   *Metrics
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// langchaingo requires a token; local OpenAI-compatible servers
	// ignore it, so a placeholder keeps them working keyless.
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(config.Model),
		openai.WithEmbeddingModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating OpenAI client: %v", ErrInvalidConfig, err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", ErrInvalidConfig, err)
	}

	dimension := config.Dimension
	if dimension <= 0 {
		dimension = detectDimensionFromModel(config.Model)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		config:    config,
		dimension: dimension,
		limiter:   newLimiter(config.RequestsPerSecond),
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts in one request.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		err = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, err
	}
	if err = waitForLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}

	vectors, embedErr := p.embedder.EmbedDocuments(ctx, texts)
	if embedErr != nil {
		err = fmt.Errorf("%w: %v", ErrEmbeddingFailed, embedErr)
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, err)
	}()

	if text == "" {
		err = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, err
	}
	if err = waitForLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}

	vector, embedErr := p.embedder.EmbedQuery(ctx, text)
	if embedErr != nil {
		err = fmt.Errorf("%w: %v", ErrEmbeddingFailed, embedErr)
		return nil, err
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op: the client is plain HTTP.
func (p *OpenAIProvider) Close() error {
	return nil
}

// Ensure OpenAIProvider implements Provider interface.
var _ Provider = (*OpenAIProvider)(nil)
