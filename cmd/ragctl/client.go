package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// defaultTimeout bounds plain request/response calls.
	defaultTimeout = 30 * time.Second
	// embedTimeout bounds calls that embed documents server-side.
	embedTimeout = 2 * time.Minute
	// generateTimeout bounds one-shot query calls, which wait on the
	// generation provider end to end.
	generateTimeout = 2 * time.Minute
)

// resetConfirmToken matches internal/server ResetConfirmToken.
const resetConfirmToken = "delete-all-documents"

// QueryRequest matches internal/server/types.go QueryRequest
type QueryRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

// DocumentPayload matches internal/server/types.go DocumentPayload
type DocumentPayload struct {
	ID         string         `json:"id,omitempty"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity *float32       `json:"similarity,omitempty"`
}

// QueryResponse matches internal/server/types.go QueryResponse
type QueryResponse struct {
	Text            string            `json:"text"`
	SourceDocuments []DocumentPayload `json:"source_documents"`
	Metadata        map[string]any    `json:"metadata"`
}

// StreamChunk matches internal/server/types.go StreamChunk
type StreamChunk struct {
	Text string `json:"text"`
}

// AddDocumentsRequest matches internal/server/types.go AddDocumentsRequest
type AddDocumentsRequest struct {
	Documents []DocumentPayload `json:"documents"`
}

// AddDocumentsResponse matches internal/server/types.go AddDocumentsResponse
type AddDocumentsResponse struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

// ResetRequest matches internal/server/types.go ResetRequest
type ResetRequest struct {
	Confirm string `json:"confirm"`
}

// IngestResponse matches internal/server/types.go IngestResponse
type IngestResponse struct {
	Source    string `json:"source"`
	Documents int    `json:"documents"`
}

// StatsResponse matches internal/server/types.go StatsResponse
type StatsResponse struct {
	Documents          int    `json:"documents"`
	Provider           string `json:"provider"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Version            string `json:"version,omitempty"`
}

// HealthResponse matches internal/server/types.go HealthResponse
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// doJSON sends a request with an optional JSON body and returns the raw
// response. A zero timeout disables the client timeout; streaming calls
// need that since the response body stays open for the whole generation.
func doJSON(method, path string, body any, timeout time.Duration) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Timeout: timeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	return resp, nil
}

// decodeJSON consumes and closes the response body, treating any
// non-200 status as an error carrying the body text.
func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// responseError turns a non-200 response into an error with the body text.
func responseError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

// outputJSON pretty-prints v to stdout.
func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
