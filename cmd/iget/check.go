package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/notifier"
	"github.com/qcekey/iget/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one cycle, print matches, exit",
	Long:  "Dry run: fetches every enabled source once and logs the vacancies that would be emitted. Nothing is written to the fingerprint index and no notification is sent.",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("check mode: no fingerprints will be recorded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Known fingerprints still count as duplicates; new ones are not stored.
	var idx model.FingerprintIndex = store.NewMemoryIndex()
	if existing, err := openIndex(ctx, cfg.Store); err != nil {
		logger.Warn("fingerprint index unavailable, checking without history", "error", err)
	} else {
		defer existing.Close()
		idx = existing
	}

	p, err := buildPipeline(cfg, store.NewReadOnlyIndex(idx), notifier.NewLogNotifier(logger), logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	report, err := p.RunCycle(ctx)
	if err != nil {
		logger.Error("check failed", "error", err)
		os.Exit(1)
	}
	printReport(os.Stdout, report)
	logger.Info("check complete")
	return nil
}
