// Package main implements the ragctl CLI for manual operations against the ragd HTTP server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the ragd HTTP server
	serverURL string
	// version information (set via ldflags at build time)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "CLI for ragd HTTP server operations",
	Long: `ragctl is a command-line interface for interacting with the ragd daemon.
It provides commands for seeding the document corpus, asking questions,
and checking daemon health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "ragd server URL")
}
