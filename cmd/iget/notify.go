package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qcekey/iget/internal/notifier"
)

var notifyType string

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification subcommands",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a sample vacancy through a notifier",
	Long: `Sends one sample vacancy through the configured notifier.
Use --type to try a single sink (log, slack, telegram, file) without editing the config.`,
	RunE: runNotifyTest,
}

func init() {
	notifyTestCmd.Flags().StringVar(&notifyType, "type", "", "notifier to test (default: notification.type from the config)")
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	kind := notifyType
	if kind == "" {
		kind = cfg.Notification.Type
	}
	n, err := setupNotifier(cfg, kind, logger)
	if err != nil {
		logger.Error("failed to set up notifier", "type", kind, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	if err := notifier.SendTestMessage(ctx, n); err != nil {
		logger.Error("sample vacancy was not delivered", "type", kind, "error", err)
		os.Exit(1)
	}
	logger.Info("sample vacancy delivered", "type", kind)
	return nil
}
