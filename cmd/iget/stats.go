package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qcekey/iget/internal/dedup"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show fingerprint index statistics",
	Long:  "Prints the number of remembered fingerprints and the age of the oldest one.",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	idx, err := openIndex(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open fingerprint index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	stats, err := dedup.New(idx, logger).Stats(ctx)
	if err != nil {
		logger.Error("failed to read index stats", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Store:        %s\n", cfg.Store.Driver)
	fmt.Printf("Fingerprints: %d\n", stats.Size)
	if stats.Size > 0 {
		fmt.Printf("Oldest entry: %s ago\n", stats.OldestEntryAge.Round(time.Second))
	}
	if cfg.Cycle.Retention > 0 {
		fmt.Printf("Retention:    %s\n", cfg.Cycle.Retention)
	} else {
		fmt.Println("Retention:    disabled")
	}
	return nil
}
