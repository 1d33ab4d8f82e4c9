package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/generator"
	"github.com/RitualChain/rag-data-pipeline/internal/scrub"
	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

type stubRetriever struct {
	docs  []vectorstore.Document
	err   error
	calls int
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string) ([]vectorstore.Document, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

type stubGenerator struct {
	result     *generator.Result
	err        error
	chunks     []string
	streamErr  error
	calls      int
	streamOpen int
	lastPrompt string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (*generator.Result, error) {
	s.calls++
	s.lastPrompt = prompt
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error, error) {
	s.streamOpen++
	s.lastPrompt = prompt
	if s.err != nil {
		return nil, nil, s.err
	}
	chunks := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(chunks)
		for _, c := range s.chunks {
			chunks <- c
		}
		if s.streamErr != nil {
			errs <- s.streamErr
		}
	}()
	return chunks, errs, nil
}

func (s *stubGenerator) Close() error { return nil }

var _ generator.Generator = (*stubGenerator)(nil)

type stubStore struct {
	added    []vectorstore.Document
	addErr   error
	addCalls int
}

func (s *stubStore) AddDocuments(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	s.addCalls++
	if s.addErr != nil {
		return nil, s.addErr
	}
	s.added = append(s.added, docs...)
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

func (s *stubStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, opts ...vectorstore.SearchOption) ([]vectorstore.Document, error) {
	return nil, nil
}

func (s *stubStore) DeleteDocuments(ctx context.Context, ids []string) error { return nil }
func (s *stubStore) Count(ctx context.Context) (int, error)                  { return len(s.added), nil }
func (s *stubStore) Reset(ctx context.Context) error                         { return nil }
func (s *stubStore) HealthCheck(ctx context.Context) error                   { return nil }
func (s *stubStore) Close() error                                            { return nil }

var _ vectorstore.Store = (*stubStore)(nil)

type stubSource struct {
	docs  []vectorstore.Document
	err   error
	loads int
}

func (s *stubSource) Load(ctx context.Context) ([]vectorstore.Document, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

func (s *stubSource) Name() string { return "stub" }

func contextDocs() []vectorstore.Document {
	return []vectorstore.Document{
		{ID: "d1", Content: "Go compiles to native code."},
		{ID: "d2", Content: "Goroutines are lightweight threads."},
	}
}

func newTestPipeline(t *testing.T, ret Retriever, gen generator.Generator, store vectorstore.Store, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(ret, gen, store, zap.NewNop(), opts...)
	require.NoError(t, err)
	return p
}

func TestNew_Validation(t *testing.T) {
	ret := &stubRetriever{}
	gen := &stubGenerator{}
	store := &stubStore{}

	_, err := New(nil, gen, store, nil)
	assert.ErrorContains(t, err, "retriever")

	_, err = New(ret, nil, store, nil)
	assert.ErrorContains(t, err, "generator")

	_, err = New(ret, gen, nil, nil)
	assert.ErrorContains(t, err, "store")

	p, err := New(ret, gen, store, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNew_BadTemplate(t *testing.T) {
	ret := &stubRetriever{}
	gen := &stubGenerator{}
	store := &stubStore{}

	_, err := New(ret, gen, store, nil, WithPromptTemplate("{{.Question"))
	assert.ErrorContains(t, err, "parsing prompt template")

	_, err = New(ret, gen, store, nil, WithPromptTemplate("{{.NoSuchField}}"))
	assert.ErrorContains(t, err, "invalid prompt template")
}

func TestQuery(t *testing.T) {
	ret := &stubRetriever{docs: contextDocs()}
	gen := &stubGenerator{result: &generator.Result{
		Text:         "Go is compiled and concurrent.",
		FinishReason: "stop",
		Usage:        generator.Usage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52},
	}}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	ans, err := p.Query(context.Background(), "what makes go fast?")
	require.NoError(t, err)

	assert.Equal(t, "Go is compiled and concurrent.", ans.Text)
	assert.Equal(t, contextDocs(), ans.SourceDocuments)
	assert.Equal(t, "stop", ans.Metadata["finish_reason"])
	assert.Equal(t, 2, ans.Metadata["documents_retrieved"])
	assert.Equal(t, generator.Usage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52}, ans.Metadata["token_usage"])

	assert.Contains(t, gen.lastPrompt, "Go compiles to native code.\n\n---\n\nGoroutines are lightweight threads.")
	assert.Contains(t, gen.lastPrompt, "Question: what makes go fast?")
}

func TestQuery_NoContextSkipsGenerator(t *testing.T) {
	ret := &stubRetriever{docs: nil}
	gen := &stubGenerator{result: &generator.Result{Text: "should never appear"}}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	ans, err := p.Query(context.Background(), "anything")
	require.NoError(t, err)

	assert.Equal(t, DefaultNoContextMessage, ans.Text)
	assert.NotNil(t, ans.SourceDocuments)
	assert.Empty(t, ans.SourceDocuments)
	assert.Equal(t, map[string]any{"retrieval": "no_context"}, ans.Metadata)
	assert.Zero(t, gen.calls, "generator must not run without context")
}

func TestQuery_CustomNoContextMessage(t *testing.T) {
	ret := &stubRetriever{}
	gen := &stubGenerator{}
	p := newTestPipeline(t, ret, gen, &stubStore{}, WithNoContextMessage("nothing indexed yet"))

	ans, err := p.Query(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "nothing indexed yet", ans.Text)
}

func TestQuery_RetrieverError(t *testing.T) {
	boom := errors.New("store offline")
	ret := &stubRetriever{err: boom}
	gen := &stubGenerator{}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	_, err := p.Query(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, gen.calls)
}

func TestQuery_GeneratorError(t *testing.T) {
	boom := errors.New("model overloaded")
	ret := &stubRetriever{docs: contextDocs()}
	gen := &stubGenerator{err: boom}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	_, err := p.Query(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
}

func TestQuery_CustomTemplate(t *testing.T) {
	ret := &stubRetriever{docs: []vectorstore.Document{{Content: "ctx"}}}
	gen := &stubGenerator{result: &generator.Result{Text: "ok"}}
	p := newTestPipeline(t, ret, gen, &stubStore{},
		WithPromptTemplate("CTX[{{.Context}}] Q[{{.Question}}]"))

	_, err := p.Query(context.Background(), "why?")
	require.NoError(t, err)
	assert.Equal(t, "CTX[ctx] Q[why?]", gen.lastPrompt)
}

func TestQueryStream(t *testing.T) {
	ret := &stubRetriever{docs: contextDocs()}
	gen := &stubGenerator{chunks: []string{"Go ", "is ", "fast."}}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	chunks, errs, err := p.QueryStream(context.Background(), "what makes go fast?")
	require.NoError(t, err)

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	assert.Equal(t, []string{"Go ", "is ", "fast."}, got)

	terminal, open := <-errs
	assert.NoError(t, terminal)
	assert.False(t, open)
	assert.Equal(t, 1, gen.streamOpen)
}

func TestQueryStream_NoContext(t *testing.T) {
	ret := &stubRetriever{}
	gen := &stubGenerator{chunks: []string{"should never appear"}}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	chunks, errs, err := p.QueryStream(context.Background(), "anything")
	require.NoError(t, err)

	first, ok := <-chunks
	require.True(t, ok)
	assert.Equal(t, DefaultNoContextMessage, first)

	_, ok = <-chunks
	assert.False(t, ok, "stream must close after the single no-context chunk")

	terminal, open := <-errs
	assert.NoError(t, terminal)
	assert.False(t, open)
	assert.Zero(t, gen.streamOpen, "generator must not run without context")
}

func TestQueryStream_RetrieverError(t *testing.T) {
	boom := errors.New("store offline")
	ret := &stubRetriever{err: boom}
	p := newTestPipeline(t, ret, &stubGenerator{}, &stubStore{})

	chunks, errs, err := p.QueryStream(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, chunks)
	assert.Nil(t, errs)
}

func TestQueryStream_GeneratorStartError(t *testing.T) {
	boom := errors.New("bad credentials")
	ret := &stubRetriever{docs: contextDocs()}
	gen := &stubGenerator{err: boom}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	_, _, err := p.QueryStream(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
}

func TestQueryStream_TerminalError(t *testing.T) {
	boom := errors.New("connection reset")
	ret := &stubRetriever{docs: contextDocs()}
	gen := &stubGenerator{chunks: []string{"partial "}, streamErr: boom}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	chunks, errs, err := p.QueryStream(context.Background(), "anything")
	require.NoError(t, err)

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	assert.Equal(t, []string{"partial "}, got)
	assert.ErrorIs(t, <-errs, boom)
}

func TestAddDocuments(t *testing.T) {
	store := &stubStore{}
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, store)

	ids, err := p.AddDocuments(context.Background(), []vectorstore.Document{
		{ID: "d1", Content: "plain prose"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)
	require.Len(t, store.added, 1)
	assert.Equal(t, "plain prose", store.added[0].Content)
}

func TestAddDocuments_ScrubsContent(t *testing.T) {
	scrubber, err := scrub.New(&scrub.Config{
		Enabled: true,
		Rules: []scrub.Rule{{
			ID:       "test-token",
			Pattern:  `tok_[a-z0-9]+`,
			Severity: "high",
		}},
	})
	require.NoError(t, err)

	store := &stubStore{}
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, store, WithScrubber(scrubber))

	input := []vectorstore.Document{{ID: "d1", Content: "deploy with tok_abc123 today"}}
	_, err = p.AddDocuments(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, store.added, 1)
	assert.Equal(t, "deploy with [REDACTED] today", store.added[0].Content)
	assert.Equal(t, "deploy with tok_abc123 today", input[0].Content, "caller's slice must not be mutated")
}

func TestAddDocuments_DisabledScrubberPassesThrough(t *testing.T) {
	store := &stubStore{}
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, store, WithScrubber(&scrub.NoopScrubber{}))

	_, err := p.AddDocuments(context.Background(), []vectorstore.Document{
		{ID: "d1", Content: "contains tok_abc123"},
	})
	require.NoError(t, err)
	assert.Equal(t, "contains tok_abc123", store.added[0].Content)
}

func TestAddDocuments_StoreError(t *testing.T) {
	boom := errors.New("write failed")
	store := &stubStore{addErr: boom}
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, store)

	_, err := p.AddDocuments(context.Background(), []vectorstore.Document{{Content: "x"}})
	assert.ErrorIs(t, err, boom)
}

func TestIngestData(t *testing.T) {
	src := &stubSource{docs: contextDocs()}
	store := &stubStore{}
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, store, WithSource(src))

	ids, err := p.IngestData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, ids)
	assert.Equal(t, 1, src.loads)
	assert.Len(t, store.added, 2)
}

func TestIngestData_NoSource(t *testing.T) {
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, &stubStore{})

	_, err := p.IngestData(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestIngestData_SourceError(t *testing.T) {
	boom := errors.New("corpus unreadable")
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, &stubStore{},
		WithSource(&stubSource{err: boom}))

	_, err := p.IngestData(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestIngestData_AppliesScrubber(t *testing.T) {
	scrubber, err := scrub.New(&scrub.Config{
		Enabled: true,
		Rules: []scrub.Rule{{
			ID:       "test-token",
			Pattern:  `tok_[a-z0-9]+`,
			Severity: "high",
		}},
	})
	require.NoError(t, err)

	src := &stubSource{docs: []vectorstore.Document{{ID: "d1", Content: "key tok_zzz9 leaked"}}}
	store := &stubStore{}
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, store,
		WithSource(src), WithScrubber(scrubber))

	_, err = p.IngestData(context.Background())
	require.NoError(t, err)
	require.Len(t, store.added, 1)
	assert.NotContains(t, store.added[0].Content, "tok_zzz9")
	assert.Contains(t, store.added[0].Content, "[REDACTED]")
}

func TestPipeline_Source(t *testing.T) {
	src := &stubSource{}
	p := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, &stubStore{}, WithSource(src))
	assert.Equal(t, src, p.Source())

	bare := newTestPipeline(t, &stubRetriever{}, &stubGenerator{}, &stubStore{})
	assert.Nil(t, bare.Source())
}

type stubTopKRetriever struct {
	stubRetriever
	gotTopK int
}

func (s *stubTopKRetriever) RetrieveTopK(ctx context.Context, query string, topK int) ([]vectorstore.Document, error) {
	s.gotTopK = topK
	return s.Retrieve(ctx, query)
}

func TestQuery_TopKOption(t *testing.T) {
	ret := &stubTopKRetriever{stubRetriever: stubRetriever{docs: contextDocs()}}
	gen := &stubGenerator{result: &generator.Result{Text: "ok"}}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	_, err := p.Query(context.Background(), "anything", WithQueryTopK(9))
	require.NoError(t, err)
	assert.Equal(t, 9, ret.gotTopK)

	// Without the option the plain path is used.
	_, err = p.Query(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, 9, ret.gotTopK, "RetrieveTopK must not run without the option")
	assert.Equal(t, 2, ret.calls)
}

func TestQuery_TopKOptionIgnoredWithoutCapability(t *testing.T) {
	ret := &stubRetriever{docs: contextDocs()}
	gen := &stubGenerator{result: &generator.Result{Text: "ok"}}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	_, err := p.Query(context.Background(), "anything", WithQueryTopK(9))
	require.NoError(t, err)
	assert.Equal(t, 1, ret.calls)
}

func TestQuery_PromptNeverBuiltFromEmptyDocs(t *testing.T) {
	// A retriever returning an explicitly empty (non-nil) slice takes
	// the no-context path too.
	ret := &stubRetriever{docs: []vectorstore.Document{}}
	gen := &stubGenerator{}
	p := newTestPipeline(t, ret, gen, &stubStore{})

	ans, err := p.Query(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, DefaultNoContextMessage, ans.Text)
	assert.Zero(t, gen.calls)
	assert.False(t, strings.Contains(gen.lastPrompt, "Context"), "no prompt should have been built")
}
