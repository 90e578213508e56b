package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns defaults patched with the fields Validate requires.
func validConfig() Config {
	cfg := Defaults()
	cfg.Tracker.Wallets = []string{"0x1111111111111111111111111111111111111111"}
	cfg.Goldsky.URL = "https://api.goldsky.com/api/public/project/subgraphs/orderbook/gn"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "no wallets",
			mutate: func(c *Config) { c.Tracker.Wallets = nil },
			want:   "at least one tracked wallet",
		},
		{
			name: "malformed wallet",
			mutate: func(c *Config) {
				c.Tracker.Wallets = []string{"1111111111111111111111111111111111111111"}
			},
			want: "0x-prefixed",
		},
		{
			name: "short wallet",
			mutate: func(c *Config) {
				c.Tracker.Wallets = []string{"0x1111"}
			},
			want: "0x-prefixed",
		},
		{
			name:   "no assets",
			mutate: func(c *Config) { c.Tracker.Assets = nil },
			want:   "at least one asset",
		},
		{
			name:   "negative slots",
			mutate: func(c *Config) { c.Tracker.PastSlots = -1 },
			want:   "past_slots",
		},
		{
			name:   "missing goldsky url",
			mutate: func(c *Config) { c.Goldsky.URL = "" },
			want:   "goldsky: url",
		},
		{
			name:   "page size too large",
			mutate: func(c *Config) { c.Goldsky.PageSize = 1001 },
			want:   "page_size must be 1-1000",
		},
		{
			name:   "page size zero",
			mutate: func(c *Config) { c.Goldsky.PageSize = 0 },
			want:   "page_size must be 1-1000",
		},
		{
			name:   "zero cleanup interval",
			mutate: func(c *Config) { c.Tracker.CleanupInterval = duration{} },
			want:   "cleanup_interval",
		},
		{
			name:   "zero backup interval",
			mutate: func(c *Config) { c.Tracker.BackupInterval = duration{} },
			want:   "backup_interval",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.LogLevel = "verbose" },
			want:   "unknown log_level",
		},
		{
			name:   "pool bounds",
			mutate: func(c *Config) { c.Database.PoolMinConns = 99 },
			want:   "pool_min_conns",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			want: "redis: addr",
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *Config) {
				c.S3.Enabled = true
				c.S3.Bucket = ""
			},
			want: "s3: bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Database.DSN = "postgres://u:p@db:5432/updown"
	cfg.Database.Host = ""
	cfg.Database.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with DSN: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[tracker]
wallets = ["0x2222222222222222222222222222222222222222"]
assets = ["btc"]
resolution_delay = "5m"
scheduler_max_sleep = "45s"

[goldsky]
url = "https://example.com/subgraph"
page_size = 500
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if len(cfg.Tracker.Wallets) != 1 || cfg.Tracker.Wallets[0] != "0x2222222222222222222222222222222222222222" {
		t.Errorf("wallets = %v", cfg.Tracker.Wallets)
	}
	if cfg.Tracker.ResolutionDelay.Duration != 5*time.Minute {
		t.Errorf("resolution_delay = %v", cfg.Tracker.ResolutionDelay.Duration)
	}
	if cfg.Tracker.SchedulerMaxSleep.Duration != 45*time.Second {
		t.Errorf("scheduler_max_sleep = %v", cfg.Tracker.SchedulerMaxSleep.Duration)
	}
	if cfg.Goldsky.PageSize != 500 {
		t.Errorf("page_size = %d", cfg.Goldsky.PageSize)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Tracker.DiscoveryInterval.Duration != time.Minute {
		t.Errorf("discovery_interval = %v, want default 1m", cfg.Tracker.DiscoveryInterval.Duration)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("database port = %d, want default 5432", cfg.Database.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("Load should fail for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPDOWN_GOLDSKY_API_KEY", "secret-key")
	t.Setenv("UPDOWN_TRACKER_WALLETS", "0x3333333333333333333333333333333333333333, 0x4444444444444444444444444444444444444444")
	t.Setenv("UPDOWN_TRACKER_RESOLUTION_DELAY", "90s")
	t.Setenv("UPDOWN_REDIS_ENABLED", "false")
	t.Setenv("UPDOWN_DATABASE_PORT", "6543")
	t.Setenv("UPDOWN_TRACKER_RESOLUTION_RETRY_MAX", "7")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Goldsky.APIKey != "secret-key" {
		t.Errorf("api key = %q", cfg.Goldsky.APIKey)
	}
	if len(cfg.Tracker.Wallets) != 2 || cfg.Tracker.Wallets[1] != "0x4444444444444444444444444444444444444444" {
		t.Errorf("wallets = %v", cfg.Tracker.Wallets)
	}
	if cfg.Tracker.ResolutionDelay.Duration != 90*time.Second {
		t.Errorf("resolution_delay = %v", cfg.Tracker.ResolutionDelay.Duration)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by env override")
	}
	if cfg.Database.Port != 6543 {
		t.Errorf("database port = %d", cfg.Database.Port)
	}
	if cfg.Tracker.ResolutionRetryMax != 7 {
		t.Errorf("resolution_retry_max = %d", cfg.Tracker.ResolutionRetryMax)
	}
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("UPDOWN_DATABASE_PORT", "not-a-number")
	t.Setenv("UPDOWN_TRACKER_RESOLUTION_DELAY", "soon")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Database.Port != 5432 {
		t.Errorf("database port = %d, want default kept", cfg.Database.Port)
	}
	if cfg.Tracker.ResolutionDelay.Duration != 2*time.Minute {
		t.Errorf("resolution_delay = %v, want default kept", cfg.Tracker.ResolutionDelay.Duration)
	}
}
