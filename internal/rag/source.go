package rag

import (
	"context"

	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

// Source supplies documents for ingestion. Implementations live in
// internal/source; the pipeline stays agnostic of where its corpus
// comes from.
type Source interface {
	// Load reads all documents from the underlying source.
	Load(ctx context.Context) ([]vectorstore.Document, error)

	// Name identifies the source in logs and ingest responses.
	Name() string
}
