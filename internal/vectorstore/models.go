package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Document is the unit of storage and retrieval.
type Document struct {
	// ID is the unique identifier and upsert key. Assigned a UUID at
	// ingestion when empty.
	ID string

	// Content is the text content of the document.
	Content string

	// Metadata contains additional key-value pairs for filtering and
	// provenance (source, path, timestamps).
	Metadata map[string]any

	// Embedding is the document's vector. Populated at ingestion when the
	// caller did not supply one.
	Embedding []float32

	// Similarity is the cosine score against the query, set only on
	// documents returned from SimilaritySearch. Nil means unannotated.
	Similarity *float32
}

// prepareDocuments applies the shared ingestion semantics for every backend:
// skip documents with neither content nor embedding (warn, don't abort),
// assign UUIDs to empty IDs, and embed all documents that need a vector in a
// single batch call. Vectors are assigned back in input order.
func prepareDocuments(ctx context.Context, embedder Embedder, logger *zap.Logger, docs []Document) ([]Document, error) {
	prepared := make([]Document, 0, len(docs))
	var pendingTexts []string
	var pendingIdx []int

	for i, doc := range docs {
		if doc.Content == "" && len(doc.Embedding) == 0 {
			logger.Warn("skipping document with no content and no embedding",
				zap.String("id", doc.ID),
				zap.Int("index", i),
			)
			continue
		}
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		// Similarity is a search-time annotation, never stored.
		doc.Similarity = nil

		if len(doc.Embedding) == 0 {
			pendingIdx = append(pendingIdx, len(prepared))
			pendingTexts = append(pendingTexts, doc.Content)
		}
		prepared = append(prepared, doc)
	}

	if len(pendingTexts) > 0 {
		if embedder == nil {
			return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingFailed)
		}
		embeddings, err := embedder.EmbedDocuments(ctx, pendingTexts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		if len(embeddings) != len(pendingTexts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(embeddings), len(pendingTexts))
		}
		for i, idx := range pendingIdx {
			prepared[idx].Embedding = embeddings[i]
		}
	}

	return prepared, nil
}

// matchesFilter reports whether the document metadata satisfies every
// key/value pair in the filter (equality).
func matchesFilter(metadata map[string]any, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// convertMetadataToString converts metadata to the map[string]string form
// used by backends without typed payloads.
func convertMetadataToString(metadata map[string]any) map[string]string {
	if metadata == nil {
		return nil
	}

	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = fmt.Sprintf("%d", val)
		case int64:
			result[k] = fmt.Sprintf("%d", val)
		case float64:
			result[k] = fmt.Sprintf("%f", val)
		case bool:
			result[k] = fmt.Sprintf("%t", val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// convertMetadataFromString converts map[string]string metadata back to the
// Document metadata form. Values stay strings.
func convertMetadataFromString(metadata map[string]string) map[string]any {
	if metadata == nil {
		return nil
	}

	result := make(map[string]any, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}
