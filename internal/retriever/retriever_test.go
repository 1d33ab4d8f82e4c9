package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

// stubEmbedder returns a fixed query vector or a fixed error.
type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = s.vector
	}
	return vectors, s.err
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

// stubStore returns canned search results and records the search arguments.
type stubStore struct {
	docs      []vectorstore.Document
	err       error
	gotVector []float32
	gotTopK   int
}

func (s *stubStore) AddDocuments(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (s *stubStore) SimilaritySearch(ctx context.Context, queryVector []float32, topK int, opts ...vectorstore.SearchOption) ([]vectorstore.Document, error) {
	s.gotVector = queryVector
	s.gotTopK = topK
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

func (s *stubStore) DeleteDocuments(ctx context.Context, ids []string) error { return nil }
func (s *stubStore) Count(ctx context.Context) (int, error)                  { return len(s.docs), nil }
func (s *stubStore) Reset(ctx context.Context) error                         { return nil }
func (s *stubStore) HealthCheck(ctx context.Context) error                   { return nil }
func (s *stubStore) Close() error                                            { return nil }

func similarity(v float32) *float32 {
	return &v
}

func scoredDoc(id string, sim *float32) vectorstore.Document {
	return vectorstore.Document{ID: id, Content: "content of " + id, Similarity: sim}
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestRetrieve_FiltersByThresholdInclusive(t *testing.T) {
	store := &stubStore{docs: []vectorstore.Document{
		scoredDoc("a", similarity(0.9)),
		scoredDoc("b", similarity(0.7)),
		scoredDoc("c", similarity(0.69)),
	}}
	r := New(store, &stubEmbedder{vector: []float32{1, 0}}, nil)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)

	// 0.7 survives the inclusive bound; 0.69 does not.
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
}

func TestRetrieve_PassesThroughUnscoredDocuments(t *testing.T) {
	store := &stubStore{docs: []vectorstore.Document{
		scoredDoc("scored-low", similarity(0.1)),
		scoredDoc("unscored", nil),
	}}
	r := New(store, &stubEmbedder{vector: []float32{1, 0}}, nil)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "unscored", docs[0].ID)
}

func TestRetrieve_PreservesStoreOrder(t *testing.T) {
	store := &stubStore{docs: []vectorstore.Document{
		scoredDoc("first", similarity(0.95)),
		scoredDoc("second", nil),
		scoredDoc("third", similarity(0.8)),
	}}
	r := New(store, &stubEmbedder{vector: []float32{1, 0}}, nil)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)

	require.Len(t, docs, 3)
	assert.Equal(t, "first", docs[0].ID)
	assert.Equal(t, "second", docs[1].ID)
	assert.Equal(t, "third", docs[2].ID)
}

func TestRetrieve_EmbeddingFailureReturnsEmpty(t *testing.T) {
	logger, logs := observedLogger()
	store := &stubStore{docs: []vectorstore.Document{scoredDoc("a", similarity(0.9))}}
	r := New(store, &stubEmbedder{err: errors.New("embedder down")}, logger)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)
	require.NotNil(t, docs)
	assert.Empty(t, docs)

	// The store is never consulted without a query vector.
	assert.Nil(t, store.gotVector)

	warnings := logs.FilterMessage("query embedding failed, returning no context").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zap.WarnLevel, warnings[0].Level)
}

func TestRetrieve_EmptyVectorReturnsEmpty(t *testing.T) {
	logger, logs := observedLogger()
	store := &stubStore{}
	r := New(store, &stubEmbedder{vector: []float32{}}, logger)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)
	require.NotNil(t, docs)
	assert.Empty(t, docs)
	assert.Equal(t, 1, logs.FilterMessage("query embedding failed, returning no context").Len())
}

func TestRetrieve_NilEmbedderReturnsEmpty(t *testing.T) {
	logger, logs := observedLogger()
	r := New(&stubStore{}, nil, logger)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 1, logs.FilterMessage("no embedder configured, returning no context").Len())
}

func TestRetrieve_StoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("backend unreachable")
	store := &stubStore{err: storeErr}
	r := New(store, &stubEmbedder{vector: []float32{1, 0}}, nil)

	_, err := r.Retrieve(context.Background(), "query")
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
}

func TestRetrieve_Defaults(t *testing.T) {
	store := &stubStore{}
	r := New(store, &stubEmbedder{vector: []float32{1, 0}}, nil)

	_, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)

	assert.Equal(t, DefaultTopK, store.gotTopK)
	assert.Equal(t, []float32{1, 0}, store.gotVector)
}

func TestRetrieve_Options(t *testing.T) {
	store := &stubStore{docs: []vectorstore.Document{
		scoredDoc("positive", similarity(0.2)),
		scoredDoc("zero", similarity(0)),
		scoredDoc("negative", similarity(-0.5)),
	}}
	r := New(store, &stubEmbedder{vector: []float32{1, 0}}, nil,
		WithTopK(25),
		WithSimilarityThreshold(0),
	)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)

	assert.Equal(t, 25, store.gotTopK)

	// An explicit zero threshold keeps zero scores and drops negatives.
	require.Len(t, docs, 2)
	assert.Equal(t, "positive", docs[0].ID)
	assert.Equal(t, "zero", docs[1].ID)
}

func TestRetrieveTopK_OverridesConfiguredDepth(t *testing.T) {
	store := &stubStore{}
	r := New(store, &stubEmbedder{vector: []float32{1, 0}}, nil, WithTopK(5))

	_, err := r.RetrieveTopK(context.Background(), "query", 12)
	require.NoError(t, err)
	assert.Equal(t, 12, store.gotTopK)

	_, err = r.RetrieveTopK(context.Background(), "query", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, store.gotTopK, "non-positive depth falls back to the configured value")
}

func TestRetrieve_AgainstMemoryStore(t *testing.T) {
	queryVector := []float32{1, 0}
	embedder := &stubEmbedder{vector: queryVector}
	store := vectorstore.NewMemoryStore(nil, zap.NewNop())

	_, err := store.AddDocuments(context.Background(), []vectorstore.Document{
		{ID: "exact", Content: "exact match", Embedding: []float32{1, 0}},
		{ID: "close", Content: "close match", Embedding: []float32{0.8, 0.6}},
		{ID: "orthogonal", Content: "unrelated", Embedding: []float32{0, 1}},
	})
	require.NoError(t, err)

	r := New(store, embedder, nil)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)

	// Cosines are 1.0, 0.8, 0.0; the default 0.7 threshold keeps two.
	require.Len(t, docs, 2)
	assert.Equal(t, "exact", docs[0].ID)
	assert.Equal(t, "close", docs[1].ID)
}

func TestFormatContext(t *testing.T) {
	tests := []struct {
		name string
		docs []vectorstore.Document
		want string
	}{
		{
			name: "empty input",
			docs: nil,
			want: "",
		},
		{
			name: "single document",
			docs: []vectorstore.Document{{Content: "only one"}},
			want: "only one",
		},
		{
			name: "multiple documents joined by separator",
			docs: []vectorstore.Document{
				{Content: "first"},
				{Content: "second"},
				{Content: "third"},
			},
			want: "first\n\n---\n\nsecond\n\n---\n\nthird",
		},
		{
			name: "empty contents preserved",
			docs: []vectorstore.Document{
				{Content: "first"},
				{Content: ""},
			},
			want: "first\n\n---\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatContext(tt.docs))
		})
	}
}
