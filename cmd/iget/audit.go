package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/qcekey/iget/internal/audit"
	"github.com/qcekey/iget/internal/config"
	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Browse vacancies interactively (TUI)",
	Long:  "Shows the source picker TUI, then launches the split-pane audit view. Nothing is recorded.",
	RunE:  runAuditCmd,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAuditCmd(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Audit mode runs a TUI; any log output corrupts the display.
	silentLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := runAudit(cfg, silentLogger); err != nil {
		fmt.Printf("Audit error: %v\n", err)
		os.Exit(1)
	}
	return nil
}

func runAudit(cfg *config.Config, logger *slog.Logger) error {
	sources, err := buildSources(cfg, logger)
	if err != nil {
		return err
	}
	// The keyword stage runs up front; deep analysis is on demand per vacancy.
	chain, err := buildChain(cfg, false, logger)
	if err != nil {
		return err
	}
	analysis, err := buildAnalysisStage(cfg, logger)
	if err != nil {
		return err
	}

	var idx model.FingerprintIndex
	if existing, err := openIndex(context.Background(), cfg.Store); err == nil {
		defer existing.Close()
		idx = store.NewReadOnlyIndex(existing)
	}

	rows := sourceRows(cfg)
	choices := make([]audit.Choice, len(rows))
	for i, r := range rows {
		choices[i] = audit.Choice{Name: r.name, Detail: r.detail, Enabled: r.enabled}
	}

	for {
		choice, err := audit.RunSourcePicker(choices)
		if err != nil {
			return fmt.Errorf("picker: %w", err)
		}
		if choice < 0 {
			return nil
		}
		src := sources[choice]
		if !src.Enabled {
			fmt.Printf("%s is disabled in the config.\n", src.Adapter.Name())
			continue
		}

		timeout := src.Timeout
		if timeout <= 0 {
			timeout = cfg.Cycle.Deadline
		}
		entries, err := audit.RunLoader(src.Adapter.Name(), timeout, func(ctx context.Context) ([]audit.Entry, error) {
			return audit.Evaluate(ctx, src.Adapter, cfg.Cycle.Window(), chain, idx)
		})
		if err != nil && len(entries) == 0 {
			fmt.Printf("Error fetching vacancies: %v\n", err)
			continue
		}

		wantQuit, err := audit.RunAuditTUI(entries, analysis)
		if err != nil {
			fmt.Printf("TUI error: %v\n", err)
		}
		if wantQuit {
			return nil
		}
	}
}
