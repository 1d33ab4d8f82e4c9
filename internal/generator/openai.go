package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// OpenAIGenerator generates text through langchaingo's OpenAI client.
type OpenAIGenerator struct {
	model   llms.Model
	config  Config
	logger  *zap.Logger
	metrics *Metrics
}

// New creates a generator backed by an OpenAI-compatible chat endpoint.
func New(config Config, logger *zap.Logger) (*OpenAIGenerator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// langchaingo requires a token; keyless local servers ignore it.
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating OpenAI client: %v", ErrInvalidConfig, err)
	}

	return NewFromModel(llm, config, logger), nil
}

// NewFromModel creates a generator over any langchaingo model. The config
// is not validated; callers own credential handling for custom models.
func NewFromModel(model llms.Model, config Config, logger *zap.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{
		model:   model,
		config:  config,
		logger:  logger,
		metrics: NewMetrics(logger),
	}
}

// Generate produces a single completion for the prompt.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (result *Result, err error) {
	start := time.Now()
	defer func() {
		var usage Usage
		if result != nil {
			usage = result.Usage
		}
		g.metrics.RecordGeneration(ctx, g.config.Model, "generate", time.Since(start), usage, err)
	}()

	if prompt == "" {
		err = ErrEmptyPrompt
		return nil, err
	}

	resp, genErr := g.model.GenerateContent(ctx, promptMessages(prompt), g.callOptions()...)
	if genErr != nil {
		err = fmt.Errorf("%w: %v", ErrGenerationFailed, genErr)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err = fmt.Errorf("%w: provider returned no choices", ErrGenerationFailed)
		return nil, err
	}

	choice := resp.Choices[0]
	result = &Result{
		Text:         choice.Content,
		FinishReason: choice.StopReason,
		Usage:        usageFromGenerationInfo(choice.GenerationInfo),
	}
	return result, nil
}

// GenerateStream produces a chunk stream for the prompt.
func (g *OpenAIGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error, error) {
	if prompt == "" {
		return nil, nil, ErrEmptyPrompt
	}

	chunks := make(chan string)
	errs := make(chan error, 1)

	opts := append(g.callOptions(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		select {
		case chunks <- string(chunk):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	go func() {
		defer close(errs)
		defer close(chunks)

		start := time.Now()
		_, err := g.model.GenerateContent(ctx, promptMessages(prompt), opts...)
		g.metrics.RecordGeneration(ctx, g.config.Model, "generate_stream", time.Since(start), Usage{}, err)
		if err != nil {
			g.logger.Debug("streaming generation ended with error", zap.Error(err))
			errs <- fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
	}()

	return chunks, errs, nil
}

// Close is a no-op: the client is plain HTTP.
func (g *OpenAIGenerator) Close() error {
	return nil
}

func (g *OpenAIGenerator) callOptions() []llms.CallOption {
	opts := []llms.CallOption{
		llms.WithTemperature(g.config.Temperature),
	}
	if g.config.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.config.MaxTokens))
	}
	return opts
}

func promptMessages(prompt string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
}

// usageFromGenerationInfo extracts token counts from the provider's
// generation info map. Missing or oddly typed entries count as zero.
func usageFromGenerationInfo(info map[string]any) Usage {
	return Usage{
		PromptTokens:     intFromInfo(info, "PromptTokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens"),
	}
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Ensure OpenAIGenerator implements Generator interface.
var _ Generator = (*OpenAIGenerator)(nil)
