package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

const (
	topicA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	topicB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 10000 {
		t.Fatalf("batch size = %d, want 10000", cfg.BatchSize)
	}
	if cfg.MaxBlocksPerRun != 200000 {
		t.Fatalf("max blocks per run = %d, want 200000", cfg.MaxBlocksPerRun)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Fatalf("sync interval = %s, want 5m", cfg.SyncInterval)
	}
	if cfg.MaxRetries != 5 || cfg.RetryBaseDelay != 500*time.Millisecond || cfg.RetryMaxDelay != 30*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
	if cfg.TokenDecimals != 18 {
		t.Fatalf("token decimals = %d, want 18", cfg.TokenDecimals)
	}
	if cfg.LargeThreshold != "100000" || cfg.TopN != 10 || cfg.RateWindowDays != 7 {
		t.Fatalf("unexpected analytics defaults: %+v", cfg)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("listen = %q, want :8080", cfg.Listen)
	}
	if !cfg.ClassifySources {
		t.Fatal("classify-sources should default on")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MIGRATION_RPC", "https://rpc.example")
	t.Setenv("MIGRATION_BATCH_SIZE", "500")
	t.Setenv("MIGRATION_BRIDGE_TOPICS", topicA+","+topicB)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCURL != "https://rpc.example" {
		t.Fatalf("rpc = %q", cfg.RPCURL)
	}
	if cfg.BatchSize != 500 {
		t.Fatalf("batch size = %d, want 500", cfg.BatchSize)
	}
	if len(cfg.BridgeTopics) != 2 || cfg.BridgeTopics[1] != topicB {
		t.Fatalf("bridge topics = %v", cfg.BridgeTopics)
	}
}

func TestLoadFlagOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Uint64("batch-size", 10000, "")
	if err := flags.Set("rpc", "wss://node.example"); err != nil {
		t.Fatalf("set rpc: %v", err)
	}
	if err := flags.Set("batch-size", "2500"); err != nil {
		t.Fatalf("set batch-size: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCURL != "wss://node.example" {
		t.Fatalf("rpc = %q", cfg.RPCURL)
	}
	if cfg.BatchSize != 2500 {
		t.Fatalf("batch size = %d, want 2500", cfg.BatchSize)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "rpc: https://file.example\nbatch-size: 777\nbridge-topics:\n  - " + topicA + "\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCURL != "https://file.example" {
		t.Fatalf("rpc = %q", cfg.RPCURL)
	}
	if cfg.BatchSize != 777 {
		t.Fatalf("batch size = %d, want 777", cfg.BatchSize)
	}
	if len(cfg.BridgeTopics) != 1 || cfg.BridgeTopics[0] != topicA {
		t.Fatalf("bridge topics = %v", cfg.BridgeTopics)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		RPCURL:            "https://rpc.example",
		TokenAddress:      "0x1111111111111111111111111111111111111111",
		MigrationContract: "0x2222222222222222222222222222222222222222",
		TokenDecimals:     18,
		BatchSize:         10000,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rpc", func(c *Config) { c.RPCURL = " " }},
		{"bad token", func(c *Config) { c.TokenAddress = "nothex" }},
		{"bad contract", func(c *Config) { c.MigrationContract = "0x123" }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"decimals out of range", func(c *Config) { c.TokenDecimals = 300 }},
	}
	for _, tc := range cases {
		cfg := valid
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseTopics(t *testing.T) {
	topics, err := ParseTopics([]string{topicA, "", "  " + topicB + " "})
	if err != nil {
		t.Fatalf("ParseTopics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("got %d topics, want 2", len(topics))
	}
	if topics[0].Hex() != topicA {
		t.Fatalf("topic[0] = %s", topics[0].Hex())
	}

	if _, err := ParseTopics([]string{"0x1234"}); err == nil {
		t.Fatal("short topic accepted")
	}
	if _, err := ParseTopics([]string{"nothex"}); err == nil {
		t.Fatal("non-hex topic accepted")
	}
}
