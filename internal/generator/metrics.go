package generator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const generatorInstrumentationName = "github.com/RitualChain/rag-data-pipeline/internal/generator"

// Metrics holds all generation-related metrics.
type Metrics struct {
	meter            metric.Meter
	logger           *zap.Logger
	duration         metric.Float64Histogram
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	errors           metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for generation.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(generatorInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	// Generation duration by model and operation
	m.duration, err = m.meter.Float64Histogram(
		"rag.generation.duration_seconds",
		metric.WithDescription("Duration of text generation in seconds, labeled by model and operation (generate, generate_stream)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	// Token throughput split by prompt and completion
	m.promptTokens, err = m.meter.Int64Counter(
		"rag.generation.prompt_tokens_total",
		metric.WithDescription("Total prompt tokens consumed by generation requests."),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		m.logger.Warn("failed to create prompt tokens counter", zap.Error(err))
	}

	m.completionTokens, err = m.meter.Int64Counter(
		"rag.generation.completion_tokens_total",
		metric.WithDescription("Total completion tokens produced by generation requests."),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		m.logger.Warn("failed to create completion tokens counter", zap.Error(err))
	}

	// Error count by model and operation
	m.errors, err = m.meter.Int64Counter(
		"rag.generation.errors_total",
		metric.WithDescription("Total generation errors by model and operation."),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordGeneration records generation metrics. Streaming calls report zero
// usage because the OpenAI streaming response carries no token counts.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, usage Usage, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("operation", operation),
	}

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}

	if usage.PromptTokens > 0 && m.promptTokens != nil {
		m.promptTokens.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(attrs...))
	}
	if usage.CompletionTokens > 0 && m.completionTokens != nil {
		m.completionTokens.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(attrs...))
	}

	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
