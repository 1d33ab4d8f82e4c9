package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  OpenAIConfig
		wantErr bool
	}{
		{
			name:    "valid configuration",
			config:  OpenAIConfig{Model: "text-embedding-3-small", APIKey: "sk-test"},
			wantErr: false,
		},
		{
			name:    "keyless local server",
			config:  OpenAIConfig{Model: "nomic-embed-text", BaseURL: "http://localhost:11434/v1"},
			wantErr: false,
		},
		{
			name:    "missing model",
			config:  OpenAIConfig{APIKey: "sk-test"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewOpenAIProvider(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{
		Model:  "text-embedding-3-small",
		APIKey: "sk-test123",
	})
	require.NoError(t, err)
	require.NotNil(t, provider)

	assert.Equal(t, 1536, provider.Dimension())
	assert.Nil(t, provider.limiter)
	assert.NoError(t, provider.Close())
}

func TestNewOpenAIProvider_InvalidConfig(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewOpenAIProvider_DimensionOverride(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{
		Model:     "custom-embedding-model",
		APIKey:    "sk-test123",
		Dimension: 2048,
	})
	require.NoError(t, err)
	assert.Equal(t, 2048, provider.Dimension())
}

func TestNewOpenAIProvider_RateLimiter(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{
		Model:             "text-embedding-3-small",
		APIKey:            "sk-test123",
		RequestsPerSecond: 5,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.limiter)
	assert.InDelta(t, 5.0, float64(provider.limiter.Limit()), 0.001)
}

func TestOpenAIProvider_EmptyInput(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{
		Model:  "text-embedding-3-small",
		APIKey: "sk-test123",
	})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = provider.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = provider.EmbedDocuments(ctx, []string{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = provider.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
