package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ChromemConfig configures a ChromemStore.
type ChromemConfig struct {
	// Path is the storage directory. A leading "~" expands to the home
	// directory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Collection is the collection name.
	Collection string
}

// Validate checks the configuration.
func (c ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore is a Store backed by chromem-go, an embedded vector database
// that persists to local disk. It needs no external service, making it the
// default choice for single-node deployments.
type ChromemStore struct {
	db       *chromem.DB
	config   ChromemConfig
	embedder Embedder
	logger   *zap.Logger

	// mu guards collection, which is swapped on Reset.
	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewChromemStore opens (or creates) the persistent database at the
// configured path and ensures the collection exists.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, err
	}
	config.Path = path

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: open chromem database at %s: %w", ErrConnectionFailed, path, err)
	}

	store := &ChromemStore{
		db:       db,
		config:   config,
		embedder: embedder,
		logger:   logger,
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, store.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("%w: create collection %q: %w", ErrStorageFailed, config.Collection, err)
	}
	store.collection = collection

	setBackendHealth(providerChromem, true)

	logger.Info("opened chromem store",
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Bool("compress", config.Compress),
		zap.Int("documents", collection.Count()),
	)
	return store, nil
}

// embeddingFunc adapts the store's Embedder to chromem's callback. Passing
// an explicit function stops chromem from falling back to its built-in
// OpenAI embedder. It is only invoked for documents added without a vector,
// which prepareDocuments already rules out.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if s.embedder == nil {
			return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingFailed)
		}
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) currentCollection() *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection
}

// AddDocuments embeds and upserts documents into the collection.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) (ids []string, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	defer recordOp(providerChromem, opInsert, time.Now(), &err)

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("document_count", len(docs)),
	)

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
		return []string{}, nil
	}

	chromemDocs := make([]chromem.Document, len(prepared))
	ids = make([]string, len(prepared))
	for i, doc := range prepared {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  convertMetadataToString(doc.Metadata),
			Embedding: doc.Embedding,
		}
		ids[i] = doc.ID
	}

	if err = s.currentCollection().AddDocuments(ctx, chromemDocs, 1); err != nil {
		err = fmt.Errorf("%w: add documents: %w", ErrStorageFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	setDocumentCount(providerChromem, s.currentCollection().Count())
	span.SetAttributes(attribute.Int("documents_added", len(ids)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("added documents to chromem store", zap.Int("count", len(ids)))
	return ids, nil
}

// SimilaritySearch runs a cosine similarity query against the collection.
// chromem rejects result counts above the stored document count, so topK is
// capped accordingly; an empty collection yields an empty result.
func (s *ChromemStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, opts ...SearchOption) (results []Document, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.SimilaritySearch")
	defer span.End()
	defer recordOp(providerChromem, opSearch, time.Now(), &err)

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding cannot be empty", ErrInvalidConfig)
	}

	options := buildSearchOptions(opts)
	collection := s.currentCollection()

	count := collection.Count()
	if count == 0 {
		span.SetAttributes(attribute.Int("results_count", 0))
		span.SetStatus(codes.Ok, "success")
		return []Document{}, nil
	}
	n := topK
	if n > count {
		n = count
	}

	var where map[string]string
	if len(options.filter) > 0 {
		where = convertMetadataToString(options.filter)
	}

	hits, err := collection.QueryEmbedding(ctx, queryEmbedding, n, where, nil)
	if err != nil {
		err = fmt.Errorf("%w: query embedding: %w", ErrStorageFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results = make([]Document, len(hits))
	for i, hit := range hits {
		similarity := hit.Similarity
		results[i] = Document{
			ID:         hit.ID,
			Content:    hit.Content,
			Metadata:   convertMetadataFromString(hit.Metadata),
			Embedding:  hit.Embedding,
			Similarity: &similarity,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteDocuments removes documents by ID. Missing IDs are ignored.
func (s *ChromemStore) DeleteDocuments(ctx context.Context, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteDocuments")
	defer span.End()
	defer recordOp(providerChromem, opDelete, time.Now(), &err)

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}

	if err = s.currentCollection().Delete(ctx, nil, nil, ids...); err != nil {
		err = fmt.Errorf("%w: delete documents: %w", ErrStorageFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	setDocumentCount(providerChromem, s.currentCollection().Count())
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	count := s.currentCollection().Count()
	setDocumentCount(providerChromem, count)
	return count, nil
}

// Reset drops and recreates the collection.
func (s *ChromemStore) Reset(ctx context.Context) (err error) {
	_, span := tracer.Start(ctx, "ChromemStore.Reset")
	defer span.End()
	defer recordOp(providerChromem, opReset, time.Now(), &err)

	span.SetAttributes(attribute.String("collection", s.config.Collection))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.db.DeleteCollection(s.config.Collection); err != nil {
		err = fmt.Errorf("%w: delete collection: %w", ErrStorageFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		err = fmt.Errorf("%w: recreate collection: %w", ErrStorageFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.collection = collection

	setDocumentCount(providerChromem, 0)
	span.SetStatus(codes.Ok, "success")

	s.logger.Info("chromem store reset", zap.String("collection", s.config.Collection))
	return nil
}

// HealthCheck verifies the storage directory is accessible.
func (s *ChromemStore) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(s.config.Path)
	setBackendHealth(providerChromem, err == nil)
	if err != nil {
		return fmt.Errorf("%w: storage path %s: %v", ErrConnectionFailed, s.config.Path, err)
	}
	return nil
}

// Close is a no-op: chromem persists synchronously on every write.
func (s *ChromemStore) Close() error {
	return nil
}

// expandPath resolves a leading "~" to the user's home directory.
func expandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve home directory: %v", ErrInvalidConfig, err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// Ensure ChromemStore implements Store interface.
var _ Store = (*ChromemStore)(nil)
