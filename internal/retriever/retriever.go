// Package retriever turns a text query into a relevance-filtered, ranked
// set of documents and formats them into a context blob for prompting.
//
// Retrieval degrades gracefully: a query that cannot be embedded returns an
// empty result with a nil error rather than failing the caller. Storage
// failures are real errors and propagate.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

var tracer = otel.Tracer("rag.retriever")

const (
	// DefaultTopK is the default number of documents to retrieve.
	DefaultTopK = 5

	// DefaultSimilarityThreshold is the default minimum similarity.
	DefaultSimilarityThreshold float32 = 0.7

	// contextSeparator joins document contents in FormatContext.
	contextSeparator = "\n\n---\n\n"
)

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets how many documents to request from the store.
func WithTopK(topK int) Option {
	return func(r *Retriever) {
		r.topK = topK
	}
}

// WithSimilarityThreshold sets the minimum similarity a scored document
// needs to survive filtering (inclusive). Cosine scores live in [-1, 1],
// so a threshold like 0.7 assumes the useful range is [0, 1]; it is a
// cutoff on the raw metric, not a percentage. Documents without a
// similarity annotation always pass.
func WithSimilarityThreshold(threshold float32) Option {
	return func(r *Retriever) {
		r.threshold = threshold
	}
}

// Retriever composes an embedder and a vector store.
type Retriever struct {
	store     vectorstore.Store
	embedder  vectorstore.Embedder
	logger    *zap.Logger
	topK      int
	threshold float32
}

// New creates a Retriever with the given store and embedder.
func New(store vectorstore.Store, embedder vectorstore.Embedder, logger *zap.Logger, opts ...Option) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Retriever{
		store:     store,
		embedder:  embedder,
		logger:    logger,
		topK:      DefaultTopK,
		threshold: DefaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve embeds the query, searches the store, and filters the results by
// similarity threshold. An unembeddable query is treated as "no relevant
// context": it logs a warning and returns an empty slice with a nil error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]vectorstore.Document, error) {
	return r.retrieve(ctx, query, r.topK)
}

// RetrieveTopK is Retrieve with an explicit result depth for this call,
// overriding the configured topK. Non-positive depths fall back to the
// configured value.
func (r *Retriever) RetrieveTopK(ctx context.Context, query string, topK int) ([]vectorstore.Document, error) {
	if topK <= 0 {
		topK = r.topK
	}
	return r.retrieve(ctx, query, topK)
}

func (r *Retriever) retrieve(ctx context.Context, query string, topK int) ([]vectorstore.Document, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retriever.topk", topK),
		attribute.Float64("retriever.threshold", float64(r.threshold)),
	)

	if r.embedder == nil {
		r.logger.Warn("no embedder configured, returning no context")
		span.AddEvent("no_context")
		return []vectorstore.Document{}, nil
	}

	span.AddEvent("embedding")
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil || len(vector) == 0 {
		r.logger.Warn("query embedding failed, returning no context",
			zap.Error(err),
			zap.Int("vector_len", len(vector)))
		span.AddEvent("no_context")
		return []vectorstore.Document{}, nil
	}

	span.AddEvent("searching")
	docs, err := r.store.SimilaritySearch(ctx, vector, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	span.AddEvent("filtering")
	filtered := make([]vectorstore.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Similarity == nil || *doc.Similarity >= r.threshold {
			filtered = append(filtered, doc)
		}
	}

	r.logger.Debug("retrieved documents",
		zap.Int("searched", len(docs)),
		zap.Int("kept", len(filtered)),
		zap.Float32("threshold", r.threshold))
	span.SetAttributes(
		attribute.Int("retriever.searched", len(docs)),
		attribute.Int("retriever.kept", len(filtered)),
	)

	return filtered, nil
}

// FormatContext joins document contents into a single context blob. The
// separator is stable so prompts and tests can rely on it. Empty input
// formats to the empty string.
func FormatContext(docs []vectorstore.Document) string {
	if len(docs) == 0 {
		return ""
	}

	contents := make([]string, len(docs))
	for i, doc := range docs {
		contents[i] = doc.Content
	}
	return strings.Join(contents, contextSeparator)
}
