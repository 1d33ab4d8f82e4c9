package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// query command flags
	queryTopK       int
	queryStream     bool
	queryOutputJSON bool
)

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "Number of documents to retrieve (0 uses the server default)")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "Stream the answer as it is generated")
	queryCmd.Flags().BoolVar(&queryOutputJSON, "json", false, "Output the full response as JSON")
}

// queryCmd asks a question over the seeded corpus
var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Ask a question over the document corpus",
	Long: `Ask a question; ragd retrieves the most relevant documents and
generates an answer grounded in them.

Examples:
  # One-shot answer
  ragctl query "How does the retry decorator work?"

  # Stream the answer as it is generated
  ragctl query --stream "Summarize the ingestion flow"

  # Retrieve more context and show the full response
  ragctl query --top-k 10 --json "Which storage backends are supported?"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

// runQuery handles the query command
func runQuery(cmd *cobra.Command, args []string) error {
	if queryTopK < 0 {
		return fmt.Errorf("--top-k must not be negative")
	}

	req := QueryRequest{
		Query:  args[0],
		TopK:   queryTopK,
		Stream: queryStream,
	}

	if queryStream {
		return streamQuery(req)
	}

	resp, err := doJSON(http.MethodPost, "/api/v1/query", req, generateTimeout)
	if err != nil {
		return err
	}

	var answer QueryResponse
	if err := decodeJSON(resp, &answer); err != nil {
		return err
	}

	if queryOutputJSON {
		return outputJSON(answer)
	}

	fmt.Println(answer.Text)

	// Source attribution goes to stderr so stdout stays pipeable.
	if len(answer.SourceDocuments) > 0 {
		fmt.Fprintf(os.Stderr, "\nSources:\n")
		for _, doc := range answer.SourceDocuments {
			if doc.Similarity != nil {
				fmt.Fprintf(os.Stderr, "  %s (similarity %.3f)\n", doc.ID, *doc.Similarity)
			} else {
				fmt.Fprintf(os.Stderr, "  %s\n", doc.ID)
			}
		}
	}
	return nil
}

// streamQuery consumes the SSE response, printing chunk text as it
// arrives. The stream ends with a [DONE] sentinel; a generation failure
// mid-stream arrives as an error event instead.
func streamQuery(req QueryRequest) error {
	resp, err := doJSON(http.MethodPost, "/api/v1/query", req, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Blank line terminates an event.
			event = ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")

			if event == "error" {
				var e struct {
					Error string `json:"error"`
				}
				if err := json.Unmarshal([]byte(data), &e); err != nil || e.Error == "" {
					e.Error = data
				}
				fmt.Println()
				return fmt.Errorf("stream failed: %s", e.Error)
			}

			if data == "[DONE]" {
				fmt.Println()
				return nil
			}

			var chunk StreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return fmt.Errorf("failed to decode stream chunk: %w", err)
			}
			fmt.Print(chunk.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Println()
		return fmt.Errorf("failed to read stream: %w", err)
	}

	fmt.Println()
	return fmt.Errorf("stream ended before completion")
}
