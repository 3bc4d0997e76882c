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
)

func runReset(cmd *cobra.Command, _ []string) error {
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

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return fmt.Errorf("reset wipes all stored records; pass --yes to confirm")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	resync, _ := cmd.Flags().GetBool("resync")
	if !resync {
		if err := st.Reset(ctx); err != nil {
			return err
		}
		logger.Info("store reset", zap.String("pg_dsn", redactDSN(cfg.PGDSN)))
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := newChainClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	decimals, err := resolveDecimals(ctx, cfg, client)
	if err != nil {
		return err
	}

	s, err := buildSyncer(cfg, decimals, client, st, logger)
	if err != nil {
		return err
	}

	res, err := s.ResetAndRescan(ctx)
	if err != nil {
		return err
	}
	logger.Info("rescan finished",
		zap.Uint64("from_block", res.FromBlock),
		zap.Uint64("to_block", res.ToBlock),
		zap.Int("inserted", res.Inserted),
		zap.Int64("last_scanned", res.LastScanned))
	return nil
}
