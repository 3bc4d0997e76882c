package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"migrationScope/internal/chain"
	"migrationScope/internal/config"
	"migrationScope/internal/store"
	"migrationScope/internal/store/postgres"
	"migrationScope/internal/syncer"
)

func main() {
	root := &cobra.Command{
		Use:          "tracker",
		Short:        "ERC-20 token migration tracker",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync migration events from the chain",
		RunE:  runSync,
	}

	syncCmd.Flags().String("rpc", "", "EVM RPC URL")
	syncCmd.Flags().String("token", "", "token contract address")
	syncCmd.Flags().String("migration-contract", "", "migration contract address")
	syncCmd.Flags().Int("token-decimals", 18, "token decimals (0 fetches decimals() from the contract)")
	syncCmd.Flags().String("pg-dsn", "", "Postgres DSN (empty runs on the in-memory store)")
	syncCmd.Flags().Uint64("batch-size", 10000, "blocks per eth_getLogs batch")
	syncCmd.Flags().Uint64("max-blocks-per-run", 200000, "ceiling on blocks covered by one pass, 0 means unlimited")
	syncCmd.Flags().Uint64("start-block", 0, "fallback start block when deployment location fails")
	syncCmd.Flags().StringSlice("bridge-topics", nil, "bridge event topic0 hashes (comma-separated)")
	syncCmd.Flags().Bool("classify-sources", true, "classify sender sources (native, bridged, unknown)")
	syncCmd.Flags().Duration("sync-interval", 5*time.Minute, "delay between passes with --continuous")
	syncCmd.Flags().Int("max-retries", 5, "maximum attempts per chain call")
	syncCmd.Flags().Duration("retry-base-delay", 500*time.Millisecond, "initial retry backoff")
	syncCmd.Flags().Duration("retry-max-delay", 30*time.Second, "retry backoff ceiling")
	syncCmd.Flags().Duration("pacing-delay", 100*time.Millisecond, "minimum delay between chain calls")
	syncCmd.Flags().Duration("request-timeout", 15*time.Second, "per-request timeout")
	syncCmd.Flags().Bool("continuous", false, "keep syncing on an interval until interrupted")
	syncCmd.Flags().Bool("reclassify", false, "reclassify stored records instead of syncing")
	syncCmd.Flags().Bool("all", false, "with --reclassify, revisit every record instead of only unknown")
	syncCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(syncCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().String("rpc", "", "EVM RPC URL")
	serveCmd.Flags().String("token", "", "token contract address")
	serveCmd.Flags().String("migration-contract", "", "migration contract address")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("large-threshold", "100000", "scaled amount marking a migration as large")
	serveCmd.Flags().Int("top-n", 10, "entries in top-migration listings")
	serveCmd.Flags().Int("rate-window-days", 7, "default trailing window for the rate route")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export migration records to a file",
		RunE:  runExport,
	}

	exportCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	exportCmd.Flags().String("format", "csv", "output format (csv, json, jsonl)")
	exportCmd.Flags().String("out", "", "output file path")
	exportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(exportCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the aggregate migration report",
		RunE:  runStats,
	}

	statsCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	statsCmd.Flags().String("large-threshold", "100000", "scaled amount marking a migration as large")
	statsCmd.Flags().Int("top-n", 10, "entries in top-migration listings")
	statsCmd.Flags().String("out", "", "write the report to a file instead of stdout")
	statsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(statsCmd)

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe stored state for a full rescan",
		RunE:  runReset,
	}

	resetCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	resetCmd.Flags().Bool("yes", false, "confirm the wipe")
	resetCmd.Flags().Bool("resync", false, "run one full sync pass after the wipe")
	resetCmd.Flags().String("rpc", "", "EVM RPC URL (required with --resync)")
	resetCmd.Flags().String("token", "", "token contract address (required with --resync)")
	resetCmd.Flags().String("migration-contract", "", "migration contract address (required with --resync)")
	resetCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(resetCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}

func newChainClient(ctx context.Context, cfg config.Config, logger *zap.Logger) (*chain.Client, error) {
	return chain.NewClient(ctx, chain.Config{
		RPCURL:         cfg.RPCURL,
		RequestTimeout: cfg.RequestTimeout,
		MaxBatchBlocks: cfg.BatchSize,
		PacingDelay:    cfg.PacingDelay,
		Retry: chain.RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Logger: logger,
	})
}

// openStore connects to Postgres, or falls back to the in-memory store when
// no DSN is configured.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.PGDSN == "" {
		logger.Warn("no pg-dsn configured, state will not survive this process")
		return store.NewMemoryStore(), nil
	}
	st, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return st, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.PGDSN == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	st, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return st, nil
}

// resolveDecimals returns the configured token decimals, reading decimals()
// from the token contract when the setting is zero.
func resolveDecimals(ctx context.Context, cfg config.Config, client *chain.Client) (int, error) {
	if cfg.TokenDecimals != 0 {
		return cfg.TokenDecimals, nil
	}
	fetched, err := client.TokenDecimals(ctx, cfg.Token())
	if err != nil {
		return 0, fmt.Errorf("fetch token decimals: %w", err)
	}
	return int(fetched), nil
}

func buildSyncer(cfg config.Config, decimals int, client *chain.Client, st store.Store, logger *zap.Logger) (*syncer.Syncer, error) {
	topics, err := config.ParseTopics(cfg.BridgeTopics)
	if err != nil {
		return nil, err
	}
	return syncer.New(syncer.Config{
		Token:             cfg.Token(),
		MigrationContract: cfg.Contract(),
		Decimals:          uint8(decimals),
		BatchSize:         cfg.BatchSize,
		MaxBlocksPerRun:   cfg.MaxBlocksPerRun,
		DefaultStartBlock: cfg.StartBlock,
		BridgeTopics:      topics,
		ClassifySources:   cfg.ClassifySources,
		SyncInterval:      cfg.SyncInterval,
		SnapshotRefresh:   true,
	}, client, st, logger), nil
}
