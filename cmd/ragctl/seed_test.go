package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpus(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600))
	return path
}

func seedCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestRunSeed(t *testing.T) {
	t.Run("sends documents in batches", func(t *testing.T) {
		lines := make([]string, 5)
		for i := range lines {
			lines[i] = fmt.Sprintf(`{"id":"doc-%d","content":"content %d"}`, i, i)
		}
		path := writeCorpus(t, lines)

		var batches [][]DocumentPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/documents", r.URL.Path)

			var req AddDocumentsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			batches = append(batches, req.Documents)

			ids := make([]string, len(req.Documents))
			for i, d := range req.Documents {
				ids[i] = d.ID
			}
			_ = json.NewEncoder(w).Encode(AddDocumentsResponse{IDs: ids, Count: len(ids)})
		}))
		defer server.Close()

		oldServerURL := serverURL
		serverURL = server.URL
		defer func() { serverURL = oldServerURL }()

		oldBatchSize := seedBatchSize
		seedBatchSize = 2
		defer func() { seedBatchSize = oldBatchSize }()

		err := runSeed(seedCommand(), []string{path})

		require.NoError(t, err)
		require.Len(t, batches, 3)
		assert.Len(t, batches[0], 2)
		assert.Len(t, batches[1], 2)
		assert.Len(t, batches[2], 1)
		assert.Equal(t, "doc-0", batches[0][0].ID)
		assert.Equal(t, "doc-4", batches[2][0].ID)
	})

	t.Run("rejects an invalid batch size", func(t *testing.T) {
		oldBatchSize := seedBatchSize
		seedBatchSize = 0
		defer func() { seedBatchSize = oldBatchSize }()

		err := runSeed(seedCommand(), []string{"corpus.jsonl"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch-size")
	})

	t.Run("fails on an empty corpus", func(t *testing.T) {
		path := writeCorpus(t, nil)

		err := runSeed(seedCommand(), []string{path})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no documents")
	})

	t.Run("fails on a missing file", func(t *testing.T) {
		err := runSeed(seedCommand(), []string{filepath.Join(t.TempDir(), "absent.jsonl")})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load corpus")
	})

	t.Run("surfaces server errors with the batch range", func(t *testing.T) {
		path := writeCorpus(t, []string{`{"content":"only doc"}`})

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "embedding failed"})
		}))
		defer server.Close()

		oldServerURL := serverURL
		serverURL = server.URL
		defer func() { serverURL = oldServerURL }()

		err := runSeed(seedCommand(), []string{path})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch 1-1")
		assert.Contains(t, err.Error(), "embedding failed")
	})
}
