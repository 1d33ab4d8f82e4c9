package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/source"
)

var (
	// seed command flags
	seedBatchSize int
)

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntVar(&seedBatchSize, "batch-size", 100, "Documents per insert request")
}

// seedCmd loads a JSONL corpus file and inserts it through the server
var seedCmd = &cobra.Command{
	Use:   "seed <file.jsonl>",
	Short: "Seed the corpus from a JSONL file",
	Long: `Seed the document corpus from a JSON Lines file, one document
object per line:

  {"id": "doc-1", "content": "...", "metadata": {"source": "handbook"}}

id and metadata are optional; documents without an id get one assigned
by the store. Documents are sent in batches so the daemon embeds each
batch with a single provider call.

Examples:
  # Seed from a corpus file
  ragctl seed corpus.jsonl

  # Smaller batches for very large documents
  ragctl seed --batch-size 20 corpus.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

// runSeed handles the seed command
func runSeed(cmd *cobra.Command, args []string) error {
	if seedBatchSize < 1 {
		return fmt.Errorf("--batch-size must be at least 1")
	}

	src := source.NewJSONLSource(args[0], zap.NewNop())
	docs, err := src.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents found in %s", args[0])
	}

	total := 0
	for start := 0; start < len(docs); start += seedBatchSize {
		end := start + seedBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		payloads := make([]DocumentPayload, len(batch))
		for i, doc := range batch {
			payloads[i] = DocumentPayload{
				ID:       doc.ID,
				Content:  doc.Content,
				Metadata: doc.Metadata,
			}
		}

		resp, err := doJSON(http.MethodPost, "/api/v1/documents", AddDocumentsRequest{Documents: payloads}, embedTimeout)
		if err != nil {
			return err
		}

		var added AddDocumentsResponse
		if err := decodeJSON(resp, &added); err != nil {
			return fmt.Errorf("batch %d-%d failed: %w", start+1, end, err)
		}

		total += added.Count
		fmt.Fprintf(os.Stderr, "Seeded %d/%d documents\n", total, len(docs))
	}

	fmt.Printf("Seeded %d documents from %s\n", total, args[0])
	return nil
}
