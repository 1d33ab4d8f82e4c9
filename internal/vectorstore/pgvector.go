package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const pgvectorPingTimeout = 5 * time.Second

// PgvectorConfig configures a PgvectorStore.
type PgvectorConfig struct {
	// DSN is the Postgres connection string.
	DSN string

	// Table is the table name. Created on first use if missing.
	Table string

	// Dimension is the embedding vector size for the table.
	Dimension int
}

// Validate checks the configuration.
func (c PgvectorConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if c.Table == "" {
		return fmt.Errorf("%w: table is required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(c.Table); err != nil {
		return err
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// PgvectorStore is a Store backed by Postgres with the pgvector extension.
// Documents live in a single table with a JSONB metadata column and a
// vector column indexed with HNSW for cosine search.
type PgvectorStore struct {
	pool     *pgxpool.Pool
	config   PgvectorConfig
	embedder Embedder
	logger   *zap.Logger

	// SQL statements with the validated table name baked in.
	insertSQL       string
	searchSQL       string
	searchFilterSQL string
	deleteSQL       string
	countSQL        string
	resetSQL        string
}

// NewPgvectorStore connects to Postgres, verifies the connection, and
// ensures the table, extension, and index exist.
func NewPgvectorStore(ctx context.Context, config PgvectorConfig, embedder Embedder, logger *zap.Logger) (*PgvectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %v", ErrInvalidConfig, err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: create connection pool: %w", ErrConnectionFailed, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgvectorPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		setBackendHealth(providerPgvector, false)
		return nil, fmt.Errorf("%w: ping database: %w", ErrConnectionFailed, err)
	}
	setBackendHealth(providerPgvector, true)

	// The table name passed ValidateCollectionName ([a-z0-9_] only), so
	// interpolating it into SQL identifiers is safe.
	table := config.Table
	store := &PgvectorStore{
		pool:     pool,
		config:   config,
		embedder: embedder,
		logger:   logger,
		insertSQL: fmt.Sprintf(`
			INSERT INTO %s (id, content, metadata, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content,
			    metadata = EXCLUDED.metadata,
			    embedding = EXCLUDED.embedding`, table),
		searchSQL: fmt.Sprintf(`
			SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
			FROM %s
			ORDER BY embedding <=> $1
			LIMIT $2`, table),
		searchFilterSQL: fmt.Sprintf(`
			SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
			FROM %s
			WHERE metadata @> $2
			ORDER BY embedding <=> $1
			LIMIT $3`, table),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table),
		countSQL:  fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table),
		resetSQL:  fmt.Sprintf(`TRUNCATE TABLE %s`, table),
	}

	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("connected to pgvector store",
		zap.String("table", table),
		zap.Int("dimension", config.Dimension),
	)
	return store, nil
}

// ensureSchema creates the pgvector extension, the documents table, and an
// HNSW cosine index if they do not exist.
func (s *PgvectorStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				metadata JSONB,
				embedding vector(%d) NOT NULL
			)`, s.config.Table, s.config.Dimension),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING hnsw (embedding vector_cosine_ops)`, s.config.Table, s.config.Table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", ErrStorageFailed, err)
		}
	}
	return nil
}

// AddDocuments embeds and upserts documents in one batch round trip.
func (s *PgvectorStore) AddDocuments(ctx context.Context, docs []Document) (ids []string, err error) {
	ctx, span := tracer.Start(ctx, "PgvectorStore.AddDocuments")
	defer span.End()
	defer recordOp(providerPgvector, opInsert, time.Now(), &err)

	span.SetAttributes(
		attribute.String("table", s.config.Table),
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

	batch := &pgx.Batch{}
	ids = make([]string, len(prepared))
	for i, doc := range prepared {
		var metadataJSON []byte
		if doc.Metadata != nil {
			metadataJSON, err = json.Marshal(doc.Metadata)
			if err != nil {
				err = fmt.Errorf("%w: marshal metadata for document %s: %v", ErrStorageFailed, doc.ID, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
		batch.Queue(s.insertSQL, doc.ID, doc.Content, metadataJSON, pgvector.NewVector(doc.Embedding))
		ids[i] = doc.ID
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range prepared {
		if _, execErr := results.Exec(); execErr != nil {
			err = wrapPgvectorError("upsert documents", execErr)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("documents_added", len(ids)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("upserted documents into pgvector",
		zap.String("table", s.config.Table),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// SimilaritySearch runs a cosine similarity query. The score is computed as
// 1 - cosine_distance, which is the raw cosine similarity.
func (s *PgvectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, opts ...SearchOption) (results []Document, err error) {
	ctx, span := tracer.Start(ctx, "PgvectorStore.SimilaritySearch")
	defer span.End()
	defer recordOp(providerPgvector, opSearch, time.Now(), &err)

	span.SetAttributes(
		attribute.String("table", s.config.Table),
		attribute.Int("k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding cannot be empty", ErrInvalidConfig)
	}

	options := buildSearchOptions(opts)
	vec := pgvector.NewVector(queryEmbedding)

	var rows pgx.Rows
	if len(options.filter) > 0 {
		// ALWAYS marshal the filter rather than interpolating it; the
		// containment operator works on a JSONB parameter.
		filterJSON, marshalErr := json.Marshal(options.filter)
		if marshalErr != nil {
			err = fmt.Errorf("%w: marshal filter: %v", ErrStorageFailed, marshalErr)
			return nil, err
		}
		rows, err = s.pool.Query(ctx, s.searchFilterSQL, vec, filterJSON, topK)
	} else {
		rows, err = s.pool.Query(ctx, s.searchSQL, vec, topK)
	}
	if err != nil {
		err = wrapPgvectorError("similarity search", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	results = make([]Document, 0, topK)
	for rows.Next() {
		var (
			doc          Document
			metadataJSON []byte
			similarity   float64
		)
		if err = rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &similarity); err != nil {
			err = wrapPgvectorError("scan search result", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err = json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				err = fmt.Errorf("%w: unmarshal metadata for document %s: %v", ErrStorageFailed, doc.ID, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
		score := float32(similarity)
		doc.Similarity = &score
		results = append(results, doc)
	}
	if err = rows.Err(); err != nil {
		err = wrapPgvectorError("iterate search results", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteDocuments removes documents by ID. Missing IDs are ignored.
func (s *PgvectorStore) DeleteDocuments(ctx context.Context, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "PgvectorStore.DeleteDocuments")
	defer span.End()
	defer recordOp(providerPgvector, opDelete, time.Now(), &err)

	span.SetAttributes(
		attribute.String("table", s.config.Table),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}

	if _, err = s.pool.Exec(ctx, s.deleteSQL, ids); err != nil {
		err = wrapPgvectorError("delete documents", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored documents.
func (s *PgvectorStore) Count(ctx context.Context) (count int, err error) {
	ctx, span := tracer.Start(ctx, "PgvectorStore.Count")
	defer span.End()
	defer recordOp(providerPgvector, opCount, time.Now(), &err)

	var n int64
	if err = s.pool.QueryRow(ctx, s.countSQL).Scan(&n); err != nil {
		err = wrapPgvectorError("count documents", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	count = int(n)
	setDocumentCount(providerPgvector, count)
	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// Reset truncates the table.
func (s *PgvectorStore) Reset(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "PgvectorStore.Reset")
	defer span.End()
	defer recordOp(providerPgvector, opReset, time.Now(), &err)

	span.SetAttributes(attribute.String("table", s.config.Table))

	if _, err = s.pool.Exec(ctx, s.resetSQL); err != nil {
		err = wrapPgvectorError("truncate table", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	setDocumentCount(providerPgvector, 0)
	span.SetStatus(codes.Ok, "success")

	s.logger.Info("pgvector store reset", zap.String("table", s.config.Table))
	return nil
}

// HealthCheck verifies the database connection.
func (s *PgvectorStore) HealthCheck(ctx context.Context) (err error) {
	defer recordOp(providerPgvector, opHealth, time.Now(), &err)

	err = s.pool.Ping(ctx)
	setBackendHealth(providerPgvector, err == nil)
	if err != nil {
		return fmt.Errorf("%w: ping database: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() error {
	s.pool.Close()
	return nil
}

// wrapPgvectorError classifies a Postgres error under the package
// sentinels, keeping the original in the chain.
func wrapPgvectorError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" { // undefined_table
		return fmt.Errorf("%w: %s: %w", ErrCollectionNotFound, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFailed, op, err)
}

// Ensure PgvectorStore implements Store interface.
var _ Store = (*PgvectorStore)(nil)
