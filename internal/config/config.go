// Package config defines the tracker configuration and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Tracker    TrackerConfig    `toml:"tracker"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Goldsky    GoldskyConfig    `toml:"goldsky"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// TrackerConfig holds the market lifecycle parameters.
type TrackerConfig struct {
	// Wallets is the fixed set of tracked wallet addresses.
	Wallets []string `toml:"wallets"`

	// Assets are the underlying asset prefixes of the 15-minute markets,
	// e.g. ["btc", "eth"].
	Assets []string `toml:"assets"`

	// PastSlots / FutureSlots bound the discovery candidate window around the
	// current 900s slot.
	PastSlots   int `toml:"past_slots"`
	FutureSlots int `toml:"future_slots"`

	DiscoveryInterval duration `toml:"discovery_interval"`

	// ResolutionDelay defers trade fetching past a market's end time so
	// trailing fills can still be indexed upstream.
	ResolutionDelay duration `toml:"resolution_delay"`

	CleanupInterval    duration `toml:"cleanup_interval"`
	PriceRetention     duration `toml:"price_retention"`
	BackupInterval     duration `toml:"backup_interval"`
	PriceSaveInterval  duration `toml:"price_save_interval"`
	SchedulerMaxSleep  duration `toml:"scheduler_max_sleep"`
	ResolutionRetryMax int      `toml:"resolution_retry_max"`
}

// PolymarketConfig holds the metadata and price-feed endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
}

// GoldskyConfig holds the on-chain fill-event index endpoint.
type GoldskyConfig struct {
	URL      string `toml:"url"`
	APIKey   string `toml:"api_key"`
	PageSize int    `toml:"page_size"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the latest-quote cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for backups.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with production defaults.
func Defaults() Config {
	return Config{
		Tracker: TrackerConfig{
			Assets:             []string{"btc", "eth"},
			PastSlots:          8,
			FutureSlots:        2,
			DiscoveryInterval:  duration{1 * time.Minute},
			ResolutionDelay:    duration{2 * time.Minute},
			CleanupInterval:    duration{1 * time.Hour},
			PriceRetention:     duration{24 * time.Hour},
			BackupInterval:     duration{6 * time.Hour},
			PriceSaveInterval:  duration{1 * time.Second},
			SchedulerMaxSleep:  duration{30 * time.Second},
			ResolutionRetryMax: 50,
		},
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Goldsky: GoldskyConfig{
			PageSize: 1000,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updown",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-backups",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"phase_error", "resolution_gap"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Tracker.Wallets) == 0 {
		errs = append(errs, "tracker: at least one tracked wallet is required")
	}
	for _, w := range c.Tracker.Wallets {
		if !strings.HasPrefix(w, "0x") || len(w) != 42 {
			errs = append(errs, fmt.Sprintf("tracker: wallet %q is not a 0x-prefixed 20-byte address", w))
		}
	}
	if len(c.Tracker.Assets) == 0 {
		errs = append(errs, "tracker: at least one asset is required")
	}
	if c.Tracker.PastSlots < 0 || c.Tracker.FutureSlots < 0 {
		errs = append(errs, "tracker: past_slots and future_slots must be >= 0")
	}
	if c.Tracker.DiscoveryInterval.Duration <= 0 {
		errs = append(errs, "tracker: discovery_interval must be positive")
	}
	if c.Tracker.ResolutionDelay.Duration < 0 {
		errs = append(errs, "tracker: resolution_delay must be >= 0")
	}
	if c.Tracker.CleanupInterval.Duration <= 0 {
		errs = append(errs, "tracker: cleanup_interval must be positive")
	}
	if c.Tracker.PriceRetention.Duration <= 0 {
		errs = append(errs, "tracker: price_retention must be positive")
	}
	if c.Tracker.BackupInterval.Duration <= 0 {
		errs = append(errs, "tracker: backup_interval must be positive")
	}
	if c.Tracker.PriceSaveInterval.Duration <= 0 {
		errs = append(errs, "tracker: price_save_interval must be positive")
	}
	if c.Tracker.SchedulerMaxSleep.Duration <= 0 {
		errs = append(errs, "tracker: scheduler_max_sleep must be positive")
	}

	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}

	if c.Goldsky.URL == "" {
		errs = append(errs, "goldsky: url must not be empty")
	}
	if c.Goldsky.PageSize <= 0 || c.Goldsky.PageSize > 1000 {
		errs = append(errs, fmt.Sprintf("goldsky: page_size must be 1-1000, got %d", c.Goldsky.PageSize))
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must be 0..pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
