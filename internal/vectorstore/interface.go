package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("rag.vectorstore")

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration. Construction-time, fatal.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownProvider is returned by the factory for an unrecognized provider tag.
	ErrUnknownProvider = errors.New("unknown vectorstore provider")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmbeddingFailed indicates embedding generation failure.
	// Always covers the whole batch, never a partial one.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrStorageFailed indicates a storage backend operation failure.
	ErrStorageFailed = errors.New("storage operation failed")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection and table names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Embedder generates vector embeddings from text.
//
// Embeddings are dense numerical representations that capture semantic
// meaning, enabling similarity search. Implementations can use cloud APIs
// (OpenAI and compatible endpoints) or local models.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts in one call.
	// Returns a slice of embeddings (one per input text) or an error.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	// Some models optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchOption configures a similarity search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	filter map[string]any
}

// WithFilter restricts results to documents whose metadata matches every
// key/value pair (equality). Backends push the filter down where they can;
// unsupported value types are ignored by backends that cannot express them.
func WithFilter(filter map[string]any) SearchOption {
	return func(o *searchOptions) {
		o.filter = filter
	}
}

func buildSearchOptions(opts []SearchOption) searchOptions {
	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is the interface for vector storage operations.
//
// Implementations are safe for concurrent use. The store owns exactly one
// document set (a single collection, chosen at construction); multi-tenancy
// is out of scope.
type Store interface {
	// AddDocuments embeds (where needed) and stores documents, upserting by
	// ID. See the package documentation for the batch semantics. Returns the
	// IDs under which the documents were stored.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// SimilaritySearch returns up to topK documents most similar to the
	// query embedding, ordered by non-increasing similarity. Each returned
	// document has Similarity set to its raw cosine score. Tie order is
	// undefined.
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, opts ...SearchOption) ([]Document, error)

	// DeleteDocuments removes documents by ID. Missing IDs are ignored.
	DeleteDocuments(ctx context.Context, ids []string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Reset removes all stored documents. Destructive and not undoable.
	Reset(ctx context.Context) error

	// HealthCheck verifies the backend is reachable and usable.
	HealthCheck(ctx context.Context) error

	// Close releases backend connections and resources.
	Close() error
}
