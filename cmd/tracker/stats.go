package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"migrationScope/internal/aggregate"
	"migrationScope/internal/config"
	"migrationScope/internal/export"
	"migrationScope/internal/store"
)

func runStats(cmd *cobra.Command, _ []string) error {
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

	threshold, err := decimal.NewFromString(cfg.LargeThreshold)
	if err != nil {
		return fmt.Errorf("invalid large-threshold %q: %w", cfg.LargeThreshold, err)
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

	report := aggregate.BuildReport(records, aggregate.ReportOptions{
		TopN:           cfg.TopN,
		LargeThreshold: threshold,
		RateWindow:     time.Duration(cfg.RateWindowDays) * 24 * time.Hour,
	})

	if cfg.Out != "" {
		if err := export.WriteReportFile(cfg.Out, report); err != nil {
			return err
		}
		logger.Info("stats written",
			zap.String("out", cfg.Out),
			zap.Uint64("records", report.Summary.TotalCount))
		return nil
	}

	return export.WriteReport(os.Stdout, report)
}
