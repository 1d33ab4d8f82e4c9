package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/rag"
	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

// maxLineBytes bounds a single JSONL record. Matches the hard file
// size ceiling of the directory source.
const maxLineBytes = 10 * 1024 * 1024

// jsonlRecord is the wire format of one corpus line.
type jsonlRecord struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// JSONLSource loads documents from a JSON Lines corpus file, one
// document object per line. Blank lines are skipped; records without
// an "id" get one assigned by the store at ingestion.
type JSONLSource struct {
	path   string
	logger *zap.Logger
}

// NewJSONLSource creates a source reading from the given corpus file.
func NewJSONLSource(path string, logger *zap.Logger) *JSONLSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLSource{path: path, logger: logger}
}

// Name identifies the source in logs and ingest responses.
func (s *JSONLSource) Name() string { return "jsonl" }

// Load reads the corpus file line by line. A line that is not a valid
// JSON object fails the whole load with an error naming the line.
func (s *JSONLSource) Load(ctx context.Context) ([]vectorstore.Document, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus file: %w", err)
	}
	defer file.Close()

	var docs []vectorstore.Document
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record jsonlRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", s.path, lineNo, err)
		}

		docs = append(docs, vectorstore.Document{
			ID:       record.ID,
			Content:  record.Content,
			Metadata: record.Metadata,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}

	s.logger.Info("loaded jsonl corpus",
		zap.String("path", s.path),
		zap.Int("documents", len(docs)))

	return docs, nil
}

var _ rag.Source = (*JSONLSource)(nil)
