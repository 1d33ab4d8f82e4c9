// Package config provides configuration loading for the RAG pipeline daemon.
//
// Configuration is loaded from a YAML file, then overridden by RAG_-prefixed
// environment variables. Defaults are applied for anything left unset.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/RitualChain/rag-data-pipeline/internal/logging"
	"github.com/RitualChain/rag-data-pipeline/internal/telemetry"
)

// Known vector store providers.
const (
	ProviderMemory   = "memory"
	ProviderQdrant   = "qdrant"
	ProviderChromem  = "chromem"
	ProviderPgvector = "pgvector"
)

// Config holds the complete daemon configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     logging.Config    `koanf:"logging"`
	Telemetry   telemetry.Config  `koanf:"telemetry"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generator   GeneratorConfig   `koanf:"generator"`
	Retriever   RetrieverConfig   `koanf:"retriever"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Source      SourceConfig      `koanf:"source"`
	Scrub       ScrubConfig       `koanf:"scrub"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// VectorStoreConfig selects and configures the storage backend.
// The provider tag is a closed variant: exactly one backend owns the
// store's state, chosen once at construction.
type VectorStoreConfig struct {
	Provider string         `koanf:"provider"`
	Retry    RetryConfig    `koanf:"retry"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
	Chromem  ChromemConfig  `koanf:"chromem"`
	Pgvector PgvectorConfig `koanf:"pgvector"`
}

// QdrantConfig holds remote vector database settings.
type QdrantConfig struct {
	Endpoint   string `koanf:"endpoint"` // host:port, or https://host:port for TLS
	Token      string `koanf:"token"`    // API key, empty for unauthenticated local instances
	Collection string `koanf:"collection"`
	Keyspace   string `koanf:"keyspace"` // flattened into the collection name
	Dimension  int    `koanf:"dimension"`
}

// ChromemConfig holds embedded persistent store settings.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
	Dimension  int    `koanf:"dimension"`
}

// PgvectorConfig holds Postgres + pgvector settings.
type PgvectorConfig struct {
	DSN       string `koanf:"dsn"`
	Table     string `koanf:"table"`
	Dimension int    `koanf:"dimension"`
}

// RetryConfig controls the optional retry decorator around the store.
// Disabled by default: base stores never retry internally.
type RetryConfig struct {
	Enabled        bool          `koanf:"enabled"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	Provider          string  `koanf:"provider"`
	Model             string  `koanf:"model"`
	BaseURL           string  `koanf:"base_url"` // empty uses the provider's default endpoint
	APIKey            string  `koanf:"api_key"`
	Dimension         int     `koanf:"dimension"`           // 0 = detect from model name
	RequestsPerSecond float64 `koanf:"requests_per_second"` // 0 = unlimited
}

// GeneratorConfig holds LLM generation settings.
type GeneratorConfig struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// RetrieverConfig holds retrieval tunables.
//
// Zero values mean "use the default" (5 / 0.7). Programmatic construction
// via retriever options can set any value explicitly, including zero.
type RetrieverConfig struct {
	TopK                int     `koanf:"top_k"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
}

// PipelineConfig holds pipeline-level settings.
type PipelineConfig struct {
	NoContextMessage string `koanf:"no_context_message"`
}

// SourceConfig configures the optional ingestion source.
type SourceConfig struct {
	Type        string   `koanf:"type"` // "", "jsonl", "directory"
	Path        string   `koanf:"path"`
	Include     []string `koanf:"include"`
	Exclude     []string `koanf:"exclude"`
	MaxFileSize int64    `koanf:"max_file_size"`
}

// ScrubConfig toggles secret redaction of document content at ingestion.
type ScrubConfig struct {
	Enabled         bool     `koanf:"enabled"`
	RedactionString string   `koanf:"redaction_string"`
	AllowList       []string `koanf:"allow_list"`
}

// NewDefaultConfig returns a fully-defaulted configuration.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if !cfg.Logging.Output.Stdout && !cfg.Logging.Output.OTEL {
		cfg.Logging.Output.Stdout = true
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = map[string]string{"service": "rag-data-pipeline"}
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "rag-data-pipeline"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.Sampling.Rate == 0 {
		cfg.Telemetry.Sampling.Rate = 1.0
	}
	if cfg.Telemetry.Metrics.ExportInterval == 0 {
		cfg.Telemetry.Metrics.ExportInterval = 15 * time.Second
	}
	if cfg.Telemetry.Shutdown.Timeout == 0 {
		cfg.Telemetry.Shutdown.Timeout = 5 * time.Second
	}

	// VectorStore defaults (memory is default - zero external deps)
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = ProviderMemory
	}
	if cfg.VectorStore.Qdrant.Endpoint == "" {
		cfg.VectorStore.Qdrant.Endpoint = "localhost:6334"
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "documents"
	}
	if cfg.VectorStore.Qdrant.Dimension == 0 {
		cfg.VectorStore.Qdrant.Dimension = 1536 // text-embedding-3-small dimensions
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/ragd/vectorstore"
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "documents"
	}
	if cfg.VectorStore.Chromem.Dimension == 0 {
		cfg.VectorStore.Chromem.Dimension = 1536
	}
	if cfg.VectorStore.Pgvector.Table == "" {
		cfg.VectorStore.Pgvector.Table = "documents"
	}
	if cfg.VectorStore.Pgvector.Dimension == 0 {
		cfg.VectorStore.Pgvector.Dimension = 1536
	}
	if cfg.VectorStore.Retry.MaxAttempts == 0 {
		cfg.VectorStore.Retry.MaxAttempts = 3
	}
	if cfg.VectorStore.Retry.InitialBackoff == 0 {
		cfg.VectorStore.Retry.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.VectorStore.Retry.MaxBackoff == 0 {
		cfg.VectorStore.Retry.MaxBackoff = 5 * time.Second
	}

	// Embeddings defaults
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}

	// Generator defaults
	if cfg.Generator.Provider == "" {
		cfg.Generator.Provider = "openai"
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "gpt-4o-mini"
	}
	if cfg.Generator.Temperature == 0 {
		cfg.Generator.Temperature = 0.7
	}
	if cfg.Generator.MaxTokens == 0 {
		cfg.Generator.MaxTokens = 1024
	}

	// Retriever defaults
	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 5
	}
	if cfg.Retriever.SimilarityThreshold == 0 {
		cfg.Retriever.SimilarityThreshold = 0.7
	}

	// Pipeline defaults
	if cfg.Pipeline.NoContextMessage == "" {
		cfg.Pipeline.NoContextMessage = "No relevant information was found in the knowledge base to answer this query."
	}

	// Source defaults
	if cfg.Source.MaxFileSize == 0 {
		cfg.Source.MaxFileSize = 1024 * 1024 // 1MB
	}

	// Scrub defaults
	if cfg.Scrub.RedactionString == "" {
		cfg.Scrub.RedactionString = "[REDACTED]"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server shutdown_timeout must be positive")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	switch c.VectorStore.Provider {
	case ProviderMemory:
	case ProviderQdrant:
		if c.VectorStore.Qdrant.Endpoint == "" {
			return errors.New("vectorstore.qdrant.endpoint is required")
		}
		if c.VectorStore.Qdrant.Collection == "" {
			return errors.New("vectorstore.qdrant.collection is required")
		}
		if c.VectorStore.Qdrant.Dimension <= 0 {
			return errors.New("vectorstore.qdrant.dimension must be positive")
		}
	case ProviderChromem:
		if c.VectorStore.Chromem.Path == "" {
			return errors.New("vectorstore.chromem.path is required")
		}
	case ProviderPgvector:
		if c.VectorStore.Pgvector.DSN == "" {
			return errors.New("vectorstore.pgvector.dsn is required")
		}
		if c.VectorStore.Pgvector.Dimension <= 0 {
			return errors.New("vectorstore.pgvector.dimension must be positive")
		}
	default:
		return fmt.Errorf("unknown vectorstore provider: %q", c.VectorStore.Provider)
	}

	if c.VectorStore.Retry.Enabled {
		if c.VectorStore.Retry.MaxAttempts < 1 {
			return errors.New("vectorstore.retry.max_attempts must be >= 1")
		}
		if c.VectorStore.Retry.InitialBackoff <= 0 {
			return errors.New("vectorstore.retry.initial_backoff must be positive")
		}
	}

	if c.Embeddings.RequestsPerSecond < 0 {
		return errors.New("embeddings.requests_per_second must be non-negative")
	}

	// The generator only speaks the OpenAI chat protocol; other providers
	// are reached through an OpenAI-compatible base_url.
	if c.Generator.Provider != "openai" {
		return fmt.Errorf("unknown generator provider: %q", c.Generator.Provider)
	}

	if c.Retriever.TopK < 1 {
		return fmt.Errorf("retriever.top_k must be >= 1, got %d", c.Retriever.TopK)
	}
	if c.Retriever.SimilarityThreshold < 0 || c.Retriever.SimilarityThreshold > 1 {
		return fmt.Errorf("retriever.similarity_threshold must be in [0,1], got %f", c.Retriever.SimilarityThreshold)
	}

	switch c.Source.Type {
	case "", "jsonl", "directory":
	default:
		return fmt.Errorf("unknown source type: %q", c.Source.Type)
	}
	if c.Source.Type != "" && c.Source.Path == "" {
		return fmt.Errorf("source.path is required when source.type is %q", c.Source.Type)
	}

	return nil
}
