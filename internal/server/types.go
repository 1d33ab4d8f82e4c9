package server

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

// DocumentPayload is the wire form of a document. Embeddings never
// travel over the API.
type DocumentPayload struct {
	ID         string         `json:"id,omitempty"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity *float32       `json:"similarity,omitempty"`
}

// QueryResponse is the response body for POST /api/v1/query.
type QueryResponse struct {
	Text            string            `json:"text"`
	SourceDocuments []DocumentPayload `json:"source_documents"`
	Metadata        map[string]any    `json:"metadata"`
}

// StreamChunk is one SSE data event in a streamed query response.
type StreamChunk struct {
	Text string `json:"text"`
}

// AddDocumentsRequest is the request body for POST /api/v1/documents.
type AddDocumentsRequest struct {
	Documents []DocumentPayload `json:"documents"`
}

// AddDocumentsResponse is the response body for POST /api/v1/documents.
type AddDocumentsResponse struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

// ResetRequest is the request body for DELETE /api/v1/documents.
type ResetRequest struct {
	Confirm string `json:"confirm"`
}

// ResetResponse is the response body for DELETE /api/v1/documents.
type ResetResponse struct {
	Status string `json:"status"`
}

// IngestResponse is the response body for POST /api/v1/ingest.
type IngestResponse struct {
	Source    string `json:"source"`
	Documents int    `json:"documents"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Documents          int    `json:"documents"`
	Provider           string `json:"provider"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Version            string `json:"version,omitempty"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}
