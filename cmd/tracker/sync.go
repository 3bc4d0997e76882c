package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"migrationScope/internal/config"
)

func runSync(cmd *cobra.Command, _ []string) error {
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

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newChainClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	decimals, err := resolveDecimals(ctx, cfg, client)
	if err != nil {
		return err
	}

	s, err := buildSyncer(cfg, decimals, client, st, logger)
	if err != nil {
		return err
	}

	if reclassify, _ := cmd.Flags().GetBool("reclassify"); reclassify {
		all, _ := cmd.Flags().GetBool("all")
		changed, err := s.Reclassify(ctx, all)
		if err != nil {
			return err
		}
		logger.Info("reclassify finished", zap.Int("changed", changed))
		return nil
	}

	// symbol() is optional in ERC-20, so a failure here only degrades the log.
	symbol := ""
	if sym, err := client.TokenSymbol(ctx, cfg.Token()); err == nil {
		symbol = sym
	}

	logger.Info("sync start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("token", cfg.TokenAddress),
		zap.String("symbol", symbol),
		zap.String("migration_contract", cfg.MigrationContract),
		zap.Int("decimals", decimals),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Bool("classify_sources", cfg.ClassifySources))

	if continuous, _ := cmd.Flags().GetBool("continuous"); continuous {
		err := s.RunContinuous(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("sync stopped")
		return nil
	}

	res, err := s.RunOnce(ctx)
	if err != nil {
		return err
	}
	logger.Info("sync finished",
		zap.Uint64("from_block", res.FromBlock),
		zap.Uint64("to_block", res.ToBlock),
		zap.Int("batches", res.Batches),
		zap.Int("inserted", res.Inserted),
		zap.Int64("last_scanned", res.LastScanned))
	return nil
}
