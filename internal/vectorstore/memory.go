package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory Store implementation.
//
// Documents live in a map keyed by ID under a coarse RWMutex, so concurrent
// inserts and searches are safe. Search is an exact (brute-force) cosine
// scan over all stored vectors, suitable for tests, development, and small
// ephemeral corpora; nothing is persisted.
type MemoryStore struct {
	embedder Embedder
	logger   *zap.Logger

	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore creates an empty in-memory store. The embedder is used to
// vectorize documents added without an embedding; logger may be nil.
func NewMemoryStore(embedder Embedder, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		embedder: embedder,
		logger:   logger,
		docs:     make(map[string]Document),
	}
}

// AddDocuments embeds and stores documents, upserting by ID.
func (s *MemoryStore) AddDocuments(ctx context.Context, docs []Document) (ids []string, err error) {
	ctx, span := tracer.Start(ctx, "MemoryStore.AddDocuments")
	defer span.End()
	defer recordOp(providerMemory, opInsert, time.Now(), &err)

	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	prepared, err := prepareDocuments(ctx, s.embedder, s.logger, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(prepared) == 0 {
		// Every document was skipped; nothing to store.
		return []string{}, nil
	}

	s.mu.Lock()
	for _, doc := range prepared {
		s.docs[doc.ID] = doc
	}
	count := len(s.docs)
	s.mu.Unlock()

	setDocumentCount(providerMemory, count)

	ids = make([]string, len(prepared))
	for i, doc := range prepared {
		ids[i] = doc.ID
	}

	span.SetAttributes(attribute.Int("documents_added", len(ids)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("added documents to memory store", zap.Int("count", len(ids)))
	return ids, nil
}

// SimilaritySearch scans all stored vectors with cosine similarity and
// returns the topK highest-scoring documents. Stored vectors whose length
// differs from the query are skipped with a debug log.
func (s *MemoryStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, opts ...SearchOption) (results []Document, err error) {
	_, span := tracer.Start(ctx, "MemoryStore.SimilaritySearch")
	defer span.End()
	defer recordOp(providerMemory, opSearch, time.Now(), &err)

	span.SetAttributes(attribute.Int("k", topK))

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding cannot be empty", ErrInvalidConfig)
	}

	options := buildSearchOptions(opts)

	s.mu.RLock()
	scored := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if len(doc.Embedding) != len(queryEmbedding) {
			s.logger.Debug("skipping document with mismatched embedding dimension",
				zap.String("id", doc.ID),
				zap.Int("document_dim", len(doc.Embedding)),
				zap.Int("query_dim", len(queryEmbedding)),
			)
			continue
		}
		if !matchesFilter(doc.Metadata, options.filter) {
			continue
		}
		score := cosineSimilarity(queryEmbedding, doc.Embedding)
		doc.Similarity = &score
		scored = append(scored, doc)
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].Similarity > *scored[j].Similarity
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	span.SetAttributes(attribute.Int("results_count", len(scored)))
	span.SetStatus(codes.Ok, "success")
	return scored, nil
}

// DeleteDocuments removes documents by ID. Missing IDs are ignored.
func (s *MemoryStore) DeleteDocuments(ctx context.Context, ids []string) (err error) {
	_, span := tracer.Start(ctx, "MemoryStore.DeleteDocuments")
	defer span.End()
	defer recordOp(providerMemory, opDelete, time.Now(), &err)

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	count := len(s.docs)
	s.mu.Unlock()

	setDocumentCount(providerMemory, count)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored documents.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Reset removes all stored documents.
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.docs = make(map[string]Document)
	s.mu.Unlock()

	setDocumentCount(providerMemory, 0)
	s.logger.Info("memory store reset")
	return nil
}

// HealthCheck always succeeds: the store has no external dependency.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	setBackendHealth(providerMemory, true)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// cosineSimilarity computes the raw cosine similarity of two equal-length
// vectors. Accumulates in float64 for numerical stability. Returns 0 when
// either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
