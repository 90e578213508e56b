package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Tracker ──
	setStringSlice(&cfg.Tracker.Wallets, "UPDOWN_TRACKER_WALLETS")
	setStringSlice(&cfg.Tracker.Assets, "UPDOWN_TRACKER_ASSETS")
	setInt(&cfg.Tracker.PastSlots, "UPDOWN_TRACKER_PAST_SLOTS")
	setInt(&cfg.Tracker.FutureSlots, "UPDOWN_TRACKER_FUTURE_SLOTS")
	setDuration(&cfg.Tracker.DiscoveryInterval, "UPDOWN_TRACKER_DISCOVERY_INTERVAL")
	setDuration(&cfg.Tracker.ResolutionDelay, "UPDOWN_TRACKER_RESOLUTION_DELAY")
	setDuration(&cfg.Tracker.CleanupInterval, "UPDOWN_TRACKER_CLEANUP_INTERVAL")
	setDuration(&cfg.Tracker.PriceRetention, "UPDOWN_TRACKER_PRICE_RETENTION")
	setDuration(&cfg.Tracker.BackupInterval, "UPDOWN_TRACKER_BACKUP_INTERVAL")
	setDuration(&cfg.Tracker.PriceSaveInterval, "UPDOWN_TRACKER_PRICE_SAVE_INTERVAL")
	setDuration(&cfg.Tracker.SchedulerMaxSleep, "UPDOWN_TRACKER_SCHEDULER_MAX_SLEEP")
	setInt(&cfg.Tracker.ResolutionRetryMax, "UPDOWN_TRACKER_RESOLUTION_RETRY_MAX")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "UPDOWN_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "UPDOWN_POLYMARKET_WS_HOST")

	// ── Goldsky ──
	setStr(&cfg.Goldsky.URL, "UPDOWN_GOLDSKY_URL")
	setStr(&cfg.Goldsky.APIKey, "UPDOWN_GOLDSKY_API_KEY")
	setInt(&cfg.Goldsky.PageSize, "UPDOWN_GOLDSKY_PAGE_SIZE")

	// ── Database ──
	setStr(&cfg.Database.DSN, "UPDOWN_DATABASE_DSN")
	setStr(&cfg.Database.Host, "UPDOWN_DATABASE_HOST")
	setInt(&cfg.Database.Port, "UPDOWN_DATABASE_PORT")
	setStr(&cfg.Database.Database, "UPDOWN_DATABASE_NAME")
	setStr(&cfg.Database.User, "UPDOWN_DATABASE_USER")
	setStr(&cfg.Database.Password, "UPDOWN_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "UPDOWN_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "UPDOWN_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "UPDOWN_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "UPDOWN_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "UPDOWN_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "UPDOWN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
