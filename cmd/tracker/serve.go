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
	"migrationScope/internal/api"
	"migrationScope/internal/config"
)

func runServe(cmd *cobra.Command, _ []string) error {
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

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	threshold, err := decimal.NewFromString(cfg.LargeThreshold)
	if err != nil {
		return fmt.Errorf("invalid large-threshold %q: %w", cfg.LargeThreshold, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newChainClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	st, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// The syncer only reports status here; decimals never reach a record.
	s, err := buildSyncer(cfg, cfg.TokenDecimals, client, st, logger)
	if err != nil {
		return err
	}

	srv := api.New(api.Config{
		Store:  st,
		Status: s,
		ReportOptions: aggregate.ReportOptions{
			TopN:           cfg.TopN,
			LargeThreshold: threshold,
			RateWindow:     time.Duration(cfg.RateWindowDays) * 24 * time.Hour,
		},
		RateWindowDays: cfg.RateWindowDays,
		Logger:         logger,
	})

	logger.Info("serve start",
		zap.String("listen", cfg.Listen),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("large_threshold", threshold.String()),
		zap.Int("top_n", cfg.TopN))

	return srv.Run(ctx, cfg.Listen)
}
