package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propwatch/ingest-cli/internal/config"
)

var cfg *config.Config

// exitCode lets commands signal a non-fatal degraded outcome (a cycle with
// partial failures exits 2; hard errors exit 1 through Execute).
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "ingest-cli",
	Short: "Property listing catalog ingest pipeline",
	Long:  "Crawls the upstream listing catalog, parses drifting detail payloads, normalizes them onto the relational model, and tracks price and lifecycle changes.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
