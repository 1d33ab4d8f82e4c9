package rag

import (
	"context"
	"errors"
	"fmt"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/generator"
	"github.com/RitualChain/rag-data-pipeline/internal/retriever"
	"github.com/RitualChain/rag-data-pipeline/internal/scrub"
	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

var tracer = otel.Tracer("rag.pipeline")

// ErrNoSource is returned by IngestData when the pipeline has no
// ingestion source configured.
var ErrNoSource = errors.New("no ingestion source configured")

// DefaultNoContextMessage answers queries for which retrieval produced
// no context.
const DefaultNoContextMessage = "No relevant information was found in the knowledge base to answer this query."

// Retriever finds context documents for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]vectorstore.Document, error)
}

// TopKRetriever is implemented by retrievers that support a per-call
// result depth.
type TopKRetriever interface {
	RetrieveTopK(ctx context.Context, query string, topK int) ([]vectorstore.Document, error)
}

// QueryOption adjusts a single Query or QueryStream call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	topK int
}

// WithQueryTopK overrides the retriever's configured result depth for
// one call. Ignored when the retriever cannot vary its depth.
func WithQueryTopK(topK int) QueryOption {
	return func(o *queryOptions) {
		o.topK = topK
	}
}

// Answer is the result of a pipeline query.
type Answer struct {
	// Text is the generated answer, or the fixed no-context message.
	Text string

	// SourceDocuments are the retrieved documents the answer is
	// grounded on, in relevance order. Empty on the no-context path.
	SourceDocuments []vectorstore.Document

	// Metadata carries per-query diagnostics: "finish_reason",
	// "token_usage" and "documents_retrieved" for generated answers;
	// "retrieval": "no_context" on the short-circuit path.
	Metadata map[string]any
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSource sets the ingestion source used by IngestData.
func WithSource(src Source) Option {
	return func(p *Pipeline) {
		p.source = src
	}
}

// WithScrubber redacts document content before it reaches the store.
func WithScrubber(s scrub.Scrubber) Option {
	return func(p *Pipeline) {
		p.scrubber = s
	}
}

// WithNoContextMessage overrides the fixed answer for queries without
// retrievable context.
func WithNoContextMessage(msg string) Option {
	return func(p *Pipeline) {
		p.noContextMessage = msg
	}
}

// WithPromptTemplate overrides the prompt template. The template
// receives .Context and .Question; a bad template fails New.
func WithPromptTemplate(text string) Option {
	return func(p *Pipeline) {
		p.templateText = text
	}
}

// Pipeline stitches retrieval into a prompt-and-generate cycle.
type Pipeline struct {
	retriever Retriever
	generator generator.Generator
	store     vectorstore.Store
	source    Source
	scrubber  scrub.Scrubber

	templateText     string
	template         *template.Template
	noContextMessage string
	logger           *zap.Logger
}

// New creates a Pipeline over a retriever, a generator, and a store.
func New(ret Retriever, gen generator.Generator, store vectorstore.Store, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if ret == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		retriever:        ret,
		generator:        gen,
		store:            store,
		templateText:     DefaultPromptTemplate,
		noContextMessage: DefaultNoContextMessage,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	tmpl, err := parsePromptTemplate(p.templateText)
	if err != nil {
		return nil, err
	}
	// A template can parse and still fail at render (unknown fields),
	// so probe it once here.
	if _, err := renderPrompt(tmpl, "", ""); err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}
	p.template = tmpl

	return p, nil
}

// Query answers a question with generated text grounded in retrieved
// context. An empty retrieval short-circuits to the fixed no-context
// answer without touching the generator.
func (p *Pipeline) Query(ctx context.Context, query string, opts ...QueryOption) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Query")
	defer span.End()

	docs, err := p.retrieve(ctx, query, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	if len(docs) == 0 {
		span.AddEvent("no_context")
		p.logger.Info("no context retrieved, skipping generation")
		return &Answer{
			Text:            p.noContextMessage,
			SourceDocuments: []vectorstore.Document{},
			Metadata:        map[string]any{"retrieval": "no_context"},
		}, nil
	}

	span.AddEvent("prompt_building")
	prompt, err := renderPrompt(p.template, retriever.FormatContext(docs), query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.AddEvent("generating")
	result, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generate: %w", err)
	}
	span.AddEvent("done")

	p.logger.Debug("query answered",
		zap.Int("documents", len(docs)),
		zap.String("finish_reason", result.FinishReason),
		zap.Int("total_tokens", result.Usage.TotalTokens))

	return &Answer{
		Text:            result.Text,
		SourceDocuments: docs,
		Metadata: map[string]any{
			"finish_reason":       result.FinishReason,
			"token_usage":         result.Usage,
			"documents_retrieved": len(docs),
		},
	}, nil
}

// QueryStream mirrors Query but yields the generator's chunk stream.
// On the no-context path the stream carries exactly one fixed chunk
// and the generator is never invoked.
func (p *Pipeline) QueryStream(ctx context.Context, query string, opts ...QueryOption) (<-chan string, <-chan error, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.QueryStream")
	defer span.End()

	docs, err := p.retrieve(ctx, query, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("retrieve: %w", err)
	}

	if len(docs) == 0 {
		span.AddEvent("no_context")
		p.logger.Info("no context retrieved, skipping generation")
		chunks := make(chan string, 1)
		errs := make(chan error, 1)
		chunks <- p.noContextMessage
		close(chunks)
		close(errs)
		return chunks, errs, nil
	}

	span.AddEvent("prompt_building")
	prompt, err := renderPrompt(p.template, retriever.FormatContext(docs), query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	span.AddEvent("generating")
	return p.generator.GenerateStream(ctx, prompt)
}

// AddDocuments funnels documents into the store, scrubbing content
// first when a scrubber is configured. The input slice is not mutated.
func (p *Pipeline) AddDocuments(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("pipeline.documents", len(docs)))

	docs = p.scrubDocuments(docs)

	ids, err := p.store.AddDocuments(ctx, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("add documents: %w", err)
	}
	return ids, nil
}

// IngestData loads the configured source and adds its documents to
// the store. Returns ErrNoSource when no source is configured.
func (p *Pipeline) IngestData(ctx context.Context) ([]string, error) {
	if p.source == nil {
		return nil, ErrNoSource
	}

	ctx, span := tracer.Start(ctx, "Pipeline.IngestData")
	defer span.End()
	span.SetAttributes(attribute.String("pipeline.source", p.source.Name()))

	docs, err := p.source.Load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading source %s: %w", p.source.Name(), err)
	}

	ids, err := p.AddDocuments(ctx, docs)
	if err != nil {
		return nil, err
	}

	p.logger.Info("ingested documents",
		zap.String("source", p.source.Name()),
		zap.Int("documents", len(ids)))

	return ids, nil
}

// Source returns the configured ingestion source, or nil.
func (p *Pipeline) Source() Source { return p.source }

// retrieve applies per-call options before delegating to the
// retriever.
func (p *Pipeline) retrieve(ctx context.Context, query string, opts []QueryOption) ([]vectorstore.Document, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.topK > 0 {
		if tk, ok := p.retriever.(TopKRetriever); ok {
			return tk.RetrieveTopK(ctx, query, o.topK)
		}
	}
	return p.retriever.Retrieve(ctx, query)
}

// scrubDocuments redacts document content. Findings are logged by
// rule, never by matched text.
func (p *Pipeline) scrubDocuments(docs []vectorstore.Document) []vectorstore.Document {
	if p.scrubber == nil || !p.scrubber.IsEnabled() || len(docs) == 0 {
		return docs
	}

	scrubbed := make([]vectorstore.Document, len(docs))
	copy(scrubbed, docs)

	totalFindings := 0
	for i := range scrubbed {
		result := p.scrubber.Scrub(scrubbed[i].Content)
		if !result.HasFindings() {
			continue
		}
		totalFindings += result.TotalFindings
		scrubbed[i].Content = result.Scrubbed
		p.logger.Warn("redacted secrets from document",
			zap.String("document_id", scrubbed[i].ID),
			zap.Int("findings", result.TotalFindings),
			zap.Any("by_rule", result.ByRule))
	}
	if totalFindings > 0 {
		p.logger.Info("ingestion scrub complete",
			zap.Int("documents", len(scrubbed)),
			zap.Int("findings", totalFindings))
	}
	return scrubbed
}
