package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/qcekey/iget/internal/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the aggregation daemon",
	Long:  "Start the scheduler daemon; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

// acquireLock takes the instance lock so two daemons never share an index.
func acquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another iget instance holds %s", path)
	}
	return lock, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("config loaded",
		"schedule", scheduler.Spec(cfg.Schedule.Interval, cfg.Schedule.Cron),
		"deadline", cfg.Cycle.Deadline.String(),
		"lookback_days", cfg.Cycle.LookbackDays,
		"retention", cfg.Cycle.Retention.String(),
		"store", cfg.Store.Driver,
		"notification", cfg.Notification.Type,
	)

	lock, err := acquireLock(cfg.Store.LockFile)
	if err != nil {
		logger.Error("failed to acquire lock", "error", err)
		os.Exit(1)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idx, err := openIndex(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open fingerprint index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	n, err := setupNotifier(cfg, cfg.Notification.Type, logger)
	if err != nil {
		logger.Error("failed to set up notifier", "error", err)
		os.Exit(1)
	}

	p, err := buildPipeline(cfg, idx, n, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	sched := scheduler.NewScheduler(p, scheduler.Spec(cfg.Schedule.Interval, cfg.Schedule.Cron), cfg.Schedule.RunOnStart, logger)
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	logger.Info("goodbye")
	return nil
}
