// Ragd is the retrieval-augmented generation daemon.
//
// It keeps a document corpus with embeddings in a pluggable vector store and
// answers natural-language queries over HTTP, grounding every answer in
// retrieved context.
//
// Configuration is loaded from a YAML file with RAG_-prefixed environment
// overrides. See internal/config for details.
//
// Usage:
//
//	# Start with the default config path (~/.config/ragd/config.yaml)
//	ragd
//
//	# Start with an explicit config file
//	ragd --config /etc/ragd/config.yaml
//
//	# Show version information
//	ragd version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/config"
	"github.com/RitualChain/rag-data-pipeline/internal/embeddings"
	"github.com/RitualChain/rag-data-pipeline/internal/generator"
	"github.com/RitualChain/rag-data-pipeline/internal/logging"
	"github.com/RitualChain/rag-data-pipeline/internal/rag"
	"github.com/RitualChain/rag-data-pipeline/internal/retriever"
	"github.com/RitualChain/rag-data-pipeline/internal/scrub"
	"github.com/RitualChain/rag-data-pipeline/internal/server"
	"github.com/RitualChain/rag-data-pipeline/internal/source"
	"github.com/RitualChain/rag-data-pipeline/internal/telemetry"
	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/ragd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd           Start the RAG daemon\n")
			fmt.Fprintf(os.Stderr, "  ragd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("ragd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize telemetry and the structured logger
//  3. Construct the embedding provider and vector store
//  4. Construct the generator, retriever, and pipeline
//  5. Start the HTTP server
//  6. Graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	// Resolve the config path up front so loader and watcher agree on it.
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "ragd", "config.yaml")
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background()) // Best-effort flush on shutdown
	}()

	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "Starting ragd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "Telemetry running degraded", zap.String("reason", health.Reason))
	}

	// Hot-reload the log level on config file changes. Everything else
	// needs a restart.
	startConfigWatcher(ctx, configPath, logger)

	// Initialize infrastructure dependencies
	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "Dependencies initialized",
		zap.String("embedding_model", cfg.Embeddings.Model),
		zap.Int("embedding_dimension", deps.embedder.Dimension()),
		zap.String("generator_model", cfg.Generator.Model))

	// Assemble the pipeline
	pipeline, err := initPipeline(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	// Create HTTP server
	srv, err := server.NewServer(pipeline, deps.store, server.Info{
		Provider:           cfg.VectorStore.Provider,
		EmbeddingModel:     cfg.Embeddings.Model,
		EmbeddingDimension: deps.embedder.Dimension(),
		Version:            version,
	}, logger.Underlying(), &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/healthz", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server and block until shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	embedder  embeddings.Provider
	store     vectorstore.Store
	generator generator.Generator
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.generator != nil {
		_ = d.generator.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
}

// initDependencies constructs the embedding provider, vector store, and
// generator, failing fast on bad configuration or unreachable backends.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:          cfg.Embeddings.Provider,
		Model:             cfg.Embeddings.Model,
		BaseURL:           cfg.Embeddings.BaseURL,
		APIKey:            cfg.Embeddings.APIKey,
		Dimension:         cfg.Embeddings.Dimension,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	// A store with a configured dimension and an embedder that disagrees on
	// it can only produce broken inserts; refuse to start instead.
	if storeDim := configuredStoreDimension(cfg); storeDim > 0 && embedder.Dimension() > 0 && storeDim != embedder.Dimension() {
		_ = embedder.Close()
		return nil, fmt.Errorf("embedding dimension %d does not match vectorstore dimension %d (model %q)",
			embedder.Dimension(), storeDim, cfg.Embeddings.Model)
	}

	store, err := vectorstore.NewStore(ctx, cfg, embedder, logger.Underlying())
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	gen, err := generator.New(generator.Config{
		Model:       cfg.Generator.Model,
		BaseURL:     cfg.Generator.BaseURL,
		APIKey:      cfg.Generator.APIKey,
		Temperature: cfg.Generator.Temperature,
		MaxTokens:   cfg.Generator.MaxTokens,
	}, logger.Underlying())
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	return &dependencies{
		embedder:  embedder,
		store:     store,
		generator: gen,
	}, nil
}

// initPipeline assembles the retriever and pipeline over the dependencies.
func initPipeline(cfg *config.Config, deps *dependencies, logger *logging.Logger) (*rag.Pipeline, error) {
	ret := retriever.New(deps.store, deps.embedder, logger.Underlying(),
		retriever.WithTopK(cfg.Retriever.TopK),
		retriever.WithSimilarityThreshold(float32(cfg.Retriever.SimilarityThreshold)),
	)

	opts := []rag.Option{
		rag.WithNoContextMessage(cfg.Pipeline.NoContextMessage),
	}

	if cfg.Scrub.Enabled {
		scrubber, err := scrub.New(&scrub.Config{
			Enabled:         true,
			Rules:           scrub.DefaultRules(),
			RedactionString: cfg.Scrub.RedactionString,
			AllowList:       cfg.Scrub.AllowList,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create scrubber: %w", err)
		}
		opts = append(opts, rag.WithScrubber(scrubber))
	}

	src, err := buildSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	if src != nil {
		opts = append(opts, rag.WithSource(src))
	}

	return rag.New(ret, deps.generator, deps.store, logger.Underlying(), opts...)
}

// buildSource constructs the configured ingestion source, or nil when
// none is configured.
func buildSource(cfg *config.Config, logger *logging.Logger) (rag.Source, error) {
	switch cfg.Source.Type {
	case "":
		return nil, nil
	case "jsonl":
		return source.NewJSONLSource(cfg.Source.Path, logger.Underlying()), nil
	case "directory":
		src, err := source.NewDirectorySource(source.DirectoryConfig{
			Root:            cfg.Source.Path,
			IncludePatterns: cfg.Source.Include,
			ExcludePatterns: cfg.Source.Exclude,
			MaxFileSize:     cfg.Source.MaxFileSize,
		}, logger.Underlying())
		if err != nil {
			return nil, fmt.Errorf("failed to create directory source: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source type: %q", cfg.Source.Type)
	}
}

// configuredStoreDimension returns the vector dimension the configured
// backend expects, or 0 when the backend derives it from the data.
func configuredStoreDimension(cfg *config.Config) int {
	switch cfg.VectorStore.Provider {
	case config.ProviderQdrant:
		return cfg.VectorStore.Qdrant.Dimension
	case config.ProviderChromem:
		return cfg.VectorStore.Chromem.Dimension
	case config.ProviderPgvector:
		return cfg.VectorStore.Pgvector.Dimension
	default:
		return 0
	}
}

// startConfigWatcher wires the config file watcher to the logger's level.
// Watcher failures degrade to a warning; hot reload is a convenience, not
// a startup requirement.
func startConfigWatcher(ctx context.Context, configPath string, logger *logging.Logger) {
	watcher, err := config.NewWatcher(configPath, logger.Underlying())
	if err != nil {
		logger.Warn(ctx, "config watcher disabled", zap.Error(err))
		return
	}
	err = watcher.Start(ctx, func(next *config.Config) {
		if err := logger.SetLevel(next.Logging.Level); err != nil {
			logger.Warn(ctx, "reloaded config has invalid log level", zap.Error(err))
			return
		}
		logger.Info(ctx, "log level updated", zap.String("level", next.Logging.Level))
	})
	if err != nil {
		logger.Warn(ctx, "config watcher disabled", zap.Error(err))
	}
}
