package source

import (
	"context"

	"github.com/RitualChain/rag-data-pipeline/internal/rag"
	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

// StaticSource serves a fixed, in-memory document slice. Useful for
// seeding demos and for tests that need a deterministic corpus.
type StaticSource struct {
	docs []vectorstore.Document
}

// NewStaticSource creates a source over the given documents. The
// slice is copied so later mutation by the caller does not leak into
// loads.
func NewStaticSource(docs []vectorstore.Document) *StaticSource {
	copied := make([]vectorstore.Document, len(docs))
	copy(copied, docs)
	return &StaticSource{docs: copied}
}

// Name identifies the source in logs and ingest responses.
func (s *StaticSource) Name() string { return "static" }

// Load returns a copy of the configured documents.
func (s *StaticSource) Load(ctx context.Context) ([]vectorstore.Document, error) {
	out := make([]vectorstore.Document, len(s.docs))
	copy(out, s.docs)
	return out, nil
}

var _ rag.Source = (*StaticSource)(nil)
