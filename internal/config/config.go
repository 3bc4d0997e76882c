package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds tracker settings loaded from flags, env, or config file.
type Config struct {
	RPCURL            string
	TokenAddress      string
	MigrationContract string
	TokenDecimals     int
	PGDSN             string

	BatchSize       uint64
	MaxBlocksPerRun uint64
	StartBlock      uint64
	BridgeTopics    []string
	ClassifySources bool
	SyncInterval    time.Duration

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	PacingDelay    time.Duration
	RequestTimeout time.Duration

	Listen         string
	LargeThreshold string
	TopN           int
	RateWindowDays int

	Out      string
	Format   string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIGRATION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("token-decimals", 18)
	v.SetDefault("batch-size", uint64(10000))
	v.SetDefault("max-blocks-per-run", uint64(200000))
	v.SetDefault("classify-sources", true)
	v.SetDefault("sync-interval", 5*time.Minute)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-base-delay", 500*time.Millisecond)
	v.SetDefault("retry-max-delay", 30*time.Second)
	v.SetDefault("pacing-delay", 100*time.Millisecond)
	v.SetDefault("request-timeout", 15*time.Second)
	v.SetDefault("listen", ":8080")
	v.SetDefault("large-threshold", "100000")
	v.SetDefault("top-n", 10)
	v.SetDefault("rate-window-days", 7)
	v.SetDefault("format", "csv")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		TokenAddress:      v.GetString("token"),
		MigrationContract: v.GetString("migration-contract"),
		TokenDecimals:     v.GetInt("token-decimals"),
		PGDSN:             v.GetString("pg-dsn"),
		BatchSize:         v.GetUint64("batch-size"),
		MaxBlocksPerRun:   v.GetUint64("max-blocks-per-run"),
		StartBlock:        v.GetUint64("start-block"),
		BridgeTopics:      getStringSlice(v, "bridge-topics"),
		ClassifySources:   v.GetBool("classify-sources"),
		SyncInterval:      v.GetDuration("sync-interval"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBaseDelay:    v.GetDuration("retry-base-delay"),
		RetryMaxDelay:     v.GetDuration("retry-max-delay"),
		PacingDelay:       v.GetDuration("pacing-delay"),
		RequestTimeout:    v.GetDuration("request-timeout"),
		Listen:            v.GetString("listen"),
		LargeThreshold:    v.GetString("large-threshold"),
		TopN:              v.GetInt("top-n"),
		RateWindowDays:    v.GetInt("rate-window-days"),
		Out:               v.GetString("out"),
		Format:            v.GetString("format"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings every chain-facing command depends on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(c.TokenAddress) {
		return fmt.Errorf("invalid token address %q", c.TokenAddress)
	}
	if !common.IsHexAddress(c.MigrationContract) {
		return fmt.Errorf("invalid migration contract address %q", c.MigrationContract)
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch-size must be positive")
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 255 {
		return fmt.Errorf("token-decimals %d out of range", c.TokenDecimals)
	}
	return nil
}

// Token returns the parsed token contract address.
func (c Config) Token() common.Address {
	return common.HexToAddress(c.TokenAddress)
}

// Contract returns the parsed migration contract address.
func (c Config) Contract() common.Address {
	return common.HexToAddress(c.MigrationContract)
}

// ParseTopics converts hex topic strings into hashes.
func ParseTopics(inputs []string) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %s", input)
		}
		if len(data) != 32 {
			return nil, fmt.Errorf("invalid topic length: %s", input)
		}
		topics = append(topics, common.BytesToHash(data))
	}
	return topics, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
