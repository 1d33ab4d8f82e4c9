// Package server exposes the RAG pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/rag"
	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

// ResetConfirmToken must accompany DELETE /api/v1/documents. Resetting the
// corpus is not undoable, so the caller has to spell it out.
const ResetConfirmToken = "delete-all-documents"

// streamDoneSentinel terminates an SSE query stream.
const streamDoneSentinel = "[DONE]"

// healthCheckTimeout bounds the dependency probes behind GET /healthz.
const healthCheckTimeout = 5 * time.Second

// Pipeline is the part of the RAG pipeline the server fronts.
type Pipeline interface {
	Query(ctx context.Context, query string, opts ...rag.QueryOption) (*rag.Answer, error)
	QueryStream(ctx context.Context, query string, opts ...rag.QueryOption) (<-chan string, <-chan error, error)
	AddDocuments(ctx context.Context, docs []vectorstore.Document) ([]string, error)
	IngestData(ctx context.Context) ([]string, error)
	Source() rag.Source
}

// Info describes the deployment for GET /api/v1/stats.
type Info struct {
	Provider           string
	EmbeddingModel     string
	EmbeddingDimension int
	Version            string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints over the pipeline and its store.
type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	store    vectorstore.Store
	info     Info
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(pipeline Pipeline, store vectorstore.Store, info Info, logger *zap.Logger, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		pipeline: pipeline,
		store:    store,
		info:     info,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Liveness + dependency health
	s.echo.GET("/healthz", s.handleHealth)

	// Prometheus metrics
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.POST("/documents", s.handleAddDocuments)
	v1.DELETE("/documents", s.handleReset)
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/stats", s.handleStats)
}

// handleHealth reports liveness plus per-dependency health. A failing
// dependency degrades the response to 503 but never panics the probe.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:       "ok",
		Dependencies: map[string]string{},
	}
	status := http.StatusOK

	if err := s.store.HealthCheck(ctx); err != nil {
		resp.Status = "degraded"
		resp.Dependencies["vectorstore"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Dependencies["vectorstore"] = "ok"
	}

	return c.JSON(status, resp)
}

// handleQuery answers a query, either as one JSON response or as an SSE
// chunk stream when the request asks for streaming.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.TopK < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "top_k cannot be negative")
	}

	var opts []rag.QueryOption
	if req.TopK > 0 {
		opts = append(opts, rag.WithQueryTopK(req.TopK))
	}

	if req.Stream {
		return s.streamQuery(c, req.Query, opts)
	}

	answer, err := s.pipeline.Query(c.Request().Context(), req.Query, opts...)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "query failed")
	}

	return c.JSON(http.StatusOK, QueryResponse{
		Text:            answer.Text,
		SourceDocuments: toDocumentPayloads(answer.SourceDocuments),
		Metadata:        answer.Metadata,
	})
}

// streamQuery streams the answer via Server-Sent Events.
//
// Each chunk is one event with a JSON body so chunk text may contain
// newlines; the stream ends with a [DONE] sentinel:
//
//	data: {"text":"The answer "}
//	data: {"text":"continues."}
//	data: [DONE]
//
// A generation failure mid-stream surfaces as an error event; the HTTP
// status is already committed by then.
func (s *Server) streamQuery(c echo.Context, query string, opts []rag.QueryOption) error {
	chunks, errs, err := s.pipeline.QueryStream(c.Request().Context(), query, opts...)
	if err != nil {
		s.logger.Error("query stream failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "query failed")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	resp.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		data, merr := json.Marshal(StreamChunk{Text: chunk})
		if merr != nil {
			continue
		}
		fmt.Fprintf(resp, "data: %s\n\n", data)
		resp.Flush()
	}

	// The error channel is buffered and closed after at most one send, so
	// this receive never blocks once the chunk channel has closed.
	if serr := <-errs; serr != nil {
		s.logger.Error("query stream ended with error", zap.Error(serr))
		fmt.Fprintf(resp, "event: error\ndata: %s\n\n", jsonError(serr))
		resp.Flush()
		return nil
	}

	fmt.Fprintf(resp, "data: %s\n\n", streamDoneSentinel)
	resp.Flush()
	return nil
}

// handleAddDocuments inserts documents into the corpus.
func (s *Server) handleAddDocuments(c echo.Context) error {
	var req AddDocumentsRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid documents request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents field is required")
	}

	docs := make([]vectorstore.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = vectorstore.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
		}
	}

	ids, err := s.pipeline.AddDocuments(c.Request().Context(), docs)
	if err != nil {
		s.logger.Error("add documents failed", zap.Error(err))
		if errors.Is(err, vectorstore.ErrEmbeddingFailed) {
			return echo.NewHTTPError(http.StatusBadGateway, "embedding failed")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "storage failed")
	}

	return c.JSON(http.StatusOK, AddDocumentsResponse{
		IDs:   ids,
		Count: len(ids),
	})
}

// handleReset deletes every stored document. Requires the confirm token.
func (s *Server) handleReset(c echo.Context) error {
	var req ResetRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid reset request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Confirm != ResetConfirmToken {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("reset requires confirm: %q", ResetConfirmToken))
	}

	if err := s.store.Reset(c.Request().Context()); err != nil {
		s.logger.Error("reset failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "reset failed")
	}

	s.logger.Info("corpus reset via API",
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))

	return c.JSON(http.StatusOK, ResetResponse{Status: "reset"})
}

// handleIngest triggers the configured ingestion source.
func (s *Server) handleIngest(c echo.Context) error {
	ids, err := s.pipeline.IngestData(c.Request().Context())
	if err != nil {
		if errors.Is(err, rag.ErrNoSource) {
			return echo.NewHTTPError(http.StatusConflict, "no ingestion source configured")
		}
		s.logger.Error("ingest failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "ingest failed")
	}

	return c.JSON(http.StatusOK, IngestResponse{
		Source:    s.pipeline.Source().Name(),
		Documents: len(ids),
	})
}

// handleStats reports corpus size and deployment descriptors.
func (s *Server) handleStats(c echo.Context) error {
	count, err := s.store.Count(c.Request().Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "stats failed")
	}

	return c.JSON(http.StatusOK, StatsResponse{
		Documents:          count,
		Provider:           s.info.Provider,
		EmbeddingModel:     s.info.EmbeddingModel,
		EmbeddingDimension: s.info.EmbeddingDimension,
		Version:            s.info.Version,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// toDocumentPayloads converts documents to their wire form. Embeddings
// stay server-side.
func toDocumentPayloads(docs []vectorstore.Document) []DocumentPayload {
	payloads := make([]DocumentPayload, len(docs))
	for i, doc := range docs {
		payloads[i] = DocumentPayload{
			ID:         doc.ID,
			Content:    doc.Content,
			Metadata:   doc.Metadata,
			Similarity: doc.Similarity,
		}
	}
	return payloads
}

// jsonError renders an error as a JSON object for an SSE error event.
func jsonError(err error) []byte {
	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return data
}
