package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var (
	// reset command flags
	resetYes bool
	// stats command flags
	statsOutputJSON bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)

	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm deleting every stored document")
	statsCmd.Flags().BoolVar(&statsOutputJSON, "json", false, "Output stats as JSON")
}

// ingestCmd triggers the daemon's configured ingestion source
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the daemon's configured ingestion source",
	Long: `Trigger ingestion from the source configured in the daemon
(a JSONL corpus file or a source directory). Fails when the daemon has
no source configured; use seed to push documents from this machine
instead.

Examples:
  # Re-ingest the configured source
  ragctl ingest`,
	RunE: runIngest,
}

// resetCmd deletes every stored document
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every document in the corpus",
	Long: `Delete every document in the corpus. This cannot be undone, so
the command refuses to run without --yes.

Examples:
  # Wipe the corpus
  ragctl reset --yes`,
	RunE: runReset,
}

// statsCmd shows corpus statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus statistics",
	Long: `Show the document count and the embedding configuration the
daemon is running with.

Examples:
  # Show stats
  ragctl stats

  # Machine-readable output
  ragctl stats --json`,
	RunE: runStats,
}

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check ragd daemon health",
	Long: `Check the health of the ragd daemon and its vector store. Exits
non-zero when the daemon is unreachable or degraded.

Examples:
  # Check health
  ragctl health

  # Check health on a different server
  ragctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// runIngest handles the ingest command
func runIngest(cmd *cobra.Command, args []string) error {
	resp, err := doJSON(http.MethodPost, "/api/v1/ingest", nil, embedTimeout)
	if err != nil {
		return err
	}

	var result IngestResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Ingested %d documents from source %q\n", result.Documents, result.Source)
	return nil
}

// runReset handles the reset command
func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("reset deletes every stored document; re-run with --yes to confirm")
	}

	resp, err := doJSON(http.MethodDelete, "/api/v1/documents", ResetRequest{Confirm: resetConfirmToken}, defaultTimeout)
	if err != nil {
		return err
	}
	if err := decodeJSON(resp, nil); err != nil {
		return err
	}

	fmt.Println("Corpus reset")
	return nil
}

// runStats handles the stats command
func runStats(cmd *cobra.Command, args []string) error {
	resp, err := doJSON(http.MethodGet, "/api/v1/stats", nil, defaultTimeout)
	if err != nil {
		return err
	}

	var stats StatsResponse
	if err := decodeJSON(resp, &stats); err != nil {
		return err
	}

	if statsOutputJSON {
		return outputJSON(stats)
	}

	fmt.Printf("Documents:           %d\n", stats.Documents)
	fmt.Printf("Provider:            %s\n", stats.Provider)
	fmt.Printf("Embedding Model:     %s\n", stats.EmbeddingModel)
	fmt.Printf("Embedding Dimension: %d\n", stats.EmbeddingDimension)
	if stats.Version != "" {
		fmt.Printf("Server Version:      %s\n", stats.Version)
	}
	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	resp, err := doJSON(http.MethodGet, "/healthz", nil, 5*time.Second)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// A degraded daemon answers 503 with the same body shape.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return responseError(resp)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	names := make([]string, 0, len(health.Dependencies))
	for name := range health.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-14s %s\n", name, health.Dependencies[name])
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server is degraded")
	}
	return nil
}
