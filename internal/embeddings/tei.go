package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TEIConfig holds configuration for the TEI embedding provider.
type TEIConfig struct {
	// BaseURL is the TEI server URL, e.g. "http://localhost:8080".
	BaseURL string

	// Model names the served model. TEI serves a single model per
	// instance; the name is used for dimension detection and metrics.
	Model string

	// Dimension overrides model dimension detection when positive.
	Dimension int

	// RequestsPerSecond caps outbound requests. Zero disables the limit.
	RequestsPerSecond float64
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// TEIProvider generates embeddings against a TEI (Text Embeddings
// Inference) server using its native /embed endpoint.
type TEIProvider struct {
	config    TEIConfig
	client    *http.Client
	dimension int
	limiter   *rate.Limiter
	metrics   *Metrics
}

// NewTEIProvider creates a TEI embedding provider.
func NewTEIProvider(config TEIConfig) (*TEIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dimension := config.Dimension
	if dimension <= 0 {
		dimension = detectDimensionFromModel(config.Model)
	}

	return &TEIProvider{
		config:    config,
		client:    &http.Client{},
		dimension: dimension,
		limiter:   newLimiter(config.RequestsPerSecond),
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint. Inputs is a
// single string or a slice of strings.
type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// embed posts inputs to the TEI /embed endpoint and decodes the vectors.
func (p *TEIProvider) embed(ctx context.Context, inputs any) ([][]float32, error) {
	if err := waitForLimiter(ctx, p.limiter); err != nil {
		return nil, err
	}

	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}

// EmbedDocuments generates embeddings for multiple texts in one request.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		err = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, err
	}

	vectors, err = p.embed(ctx, texts)
	return vectors, err
}

// EmbedQuery generates an embedding for a single query.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, err)
	}()

	if text == "" {
		err = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, err
	}

	vectors, err := p.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		err = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *TEIProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (p *TEIProvider) Close() error {
	return nil
}

// Ensure TEIProvider implements Provider interface.
var _ Provider = (*TEIProvider)(nil)
