package vectorstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		wantErr    bool
	}{
		{name: "simple", collection: "documents", wantErr: false},
		{name: "with underscore", collection: "rag_documents", wantErr: false},
		{name: "with digits", collection: "docs_2024", wantErr: false},
		{name: "single char", collection: "d", wantErr: false},
		{name: "max length", collection: strings.Repeat("a", 64), wantErr: false},
		{name: "empty", collection: "", wantErr: true},
		{name: "too long", collection: strings.Repeat("a", 65), wantErr: true},
		{name: "uppercase", collection: "Documents", wantErr: true},
		{name: "hyphen", collection: "my-docs", wantErr: true},
		{name: "space", collection: "my docs", wantErr: true},
		{name: "sql injection attempt", collection: "docs; DROP TABLE users", wantErr: true},
		{name: "path traversal", collection: "../etc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollectionName(tt.collection)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidCollectionName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSearchOptions(t *testing.T) {
	t.Run("defaults to no filter", func(t *testing.T) {
		options := buildSearchOptions(nil)
		assert.Nil(t, options.filter)
	})

	t.Run("with filter", func(t *testing.T) {
		options := buildSearchOptions([]SearchOption{
			WithFilter(map[string]any{"source": "wiki"}),
		})
		assert.Equal(t, map[string]any{"source": "wiki"}, options.filter)
	})

	t.Run("last filter wins", func(t *testing.T) {
		options := buildSearchOptions([]SearchOption{
			WithFilter(map[string]any{"a": 1}),
			WithFilter(map[string]any{"b": 2}),
		})
		assert.Equal(t, map[string]any{"b": 2}, options.filter)
	})
}
