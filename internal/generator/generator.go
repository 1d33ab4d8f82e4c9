package generator

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyPrompt indicates an empty prompt.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrGenerationFailed indicates the provider failed to generate.
	ErrGenerationFailed = errors.New("generation failed")
)

// Usage reports token accounting for a single generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a completed one-shot generation.
type Result struct {
	// Text is the generated completion.
	Text string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage carries the provider's token counts when reported.
	Usage Usage
}

// Generator produces text from prompts.
type Generator interface {
	// Generate produces a single completion for the prompt.
	Generate(ctx context.Context, prompt string) (*Result, error)

	// GenerateStream produces a chunk stream for the prompt. The chunk
	// channel closes when generation completes; the error channel is
	// buffered and carries at most one terminal error. Cancelling ctx
	// releases the producer at the next chunk boundary.
	GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error, error)

	// Close releases resources held by the generator.
	Close() error
}

// Config holds configuration for the OpenAI-compatible generator.
type Config struct {
	// Model is the chat model, e.g. "gpt-4o-mini".
	Model string

	// BaseURL overrides the OpenAI endpoint. Any OpenAI-compatible server
	// works (Ollama, LM Studio, vLLM).
	BaseURL string

	// APIKey authenticates the client. Required unless BaseURL points at
	// a local server, which may be keyless.
	APIKey string

	// Temperature controls sampling randomness.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider
	// default in place.
	MaxTokens int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.APIKey == "" && c.BaseURL == "" {
		return fmt.Errorf("%w: api key required for the hosted endpoint", ErrInvalidConfig)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be in [0, 2]", ErrInvalidConfig)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens cannot be negative", ErrInvalidConfig)
	}
	return nil
}
