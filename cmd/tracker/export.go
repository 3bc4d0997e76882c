package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"migrationScope/internal/config"
	"migrationScope/internal/export"
	"migrationScope/internal/store"
)

func runExport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	format, err := export.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	if cfg.Out == "" {
		return fmt.Errorf("out path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.QueryRecords(ctx, store.RecordFilter{})
	if err != nil {
		return err
	}

	if err := export.WriteFile(cfg.Out, format, records); err != nil {
		return err
	}

	logger.Info("export finished",
		zap.String("out", cfg.Out),
		zap.String("format", string(format)),
		zap.Int("records", len(records)))
	return nil
}
