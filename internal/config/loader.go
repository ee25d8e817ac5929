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
// built-in defaults, applies SCALPBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SCALPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.ApiKey, "SCALPBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "SCALPBOT_BINANCE_API_SECRET")
	setStr(&cfg.Binance.EncryptedSecretPath, "SCALPBOT_BINANCE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Binance.SecretPassword, "SCALPBOT_BINANCE_SECRET_PASSWORD")
	setStr(&cfg.Binance.BaseURL, "SCALPBOT_BINANCE_BASE_URL")
	setStr(&cfg.Binance.WsURL, "SCALPBOT_BINANCE_WS_URL")
	setInt(&cfg.Binance.RecvWindowMs, "SCALPBOT_BINANCE_RECV_WINDOW_MS")

	// ── Trading ──
	setStr(&cfg.Trading.Symbol, "SCALPBOT_TRADING_SYMBOL")
	setFloat64(&cfg.Trading.Quantity, "SCALPBOT_TRADING_QUANTITY")
	setInt(&cfg.Trading.Leverage, "SCALPBOT_TRADING_LEVERAGE")
	setStr(&cfg.Trading.InitialDirection, "SCALPBOT_TRADING_INITIAL_DIRECTION")
	setInt(&cfg.Trading.EntryLevel, "SCALPBOT_TRADING_ENTRY_LEVEL")
	setInt(&cfg.Trading.TakeProfitLevel, "SCALPBOT_TRADING_TAKE_PROFIT_LEVEL")
	setInt(&cfg.Trading.StopLossLevel, "SCALPBOT_TRADING_STOP_LOSS_LEVEL")
	setBool(&cfg.Trading.UseRiskReward, "SCALPBOT_TRADING_USE_RISK_REWARD")
	setFloat64(&cfg.Trading.SLDistancePercent, "SCALPBOT_TRADING_SL_DISTANCE_PERCENT")
	setFloat64(&cfg.Trading.RiskRewardRatio, "SCALPBOT_TRADING_RISK_REWARD_RATIO")
	setInt(&cfg.Trading.LossFlipThreshold, "SCALPBOT_TRADING_LOSS_FLIP_THRESHOLD")
	setInt(&cfg.Trading.DepthLevels, "SCALPBOT_TRADING_DEPTH_LEVELS")
	setDuration(&cfg.Trading.CycleDelay, "SCALPBOT_TRADING_CYCLE_DELAY")
	setDuration(&cfg.Trading.PollInterval, "SCALPBOT_TRADING_POLL_INTERVAL")
	setDuration(&cfg.Trading.EntryTimeout, "SCALPBOT_TRADING_ENTRY_TIMEOUT")
	setDuration(&cfg.Trading.MonitorCeiling, "SCALPBOT_TRADING_MONITOR_CEILING")
	setInt(&cfg.Trading.BookRetries, "SCALPBOT_TRADING_BOOK_RETRIES")
	setDuration(&cfg.Trading.BookRetryDelay, "SCALPBOT_TRADING_BOOK_RETRY_DELAY")

	// ── Maker ──
	setFloat64(&cfg.Maker.BaseQuantity, "SCALPBOT_MAKER_BASE_QUANTITY")
	setFloat64(&cfg.Maker.BaseSpreadPercent, "SCALPBOT_MAKER_BASE_SPREAD_PERCENT")
	setFloat64(&cfg.Maker.VolCoefficient, "SCALPBOT_MAKER_VOL_COEFFICIENT")
	setFloat64(&cfg.Maker.MinSpreadPercent, "SCALPBOT_MAKER_MIN_SPREAD_PERCENT")
	setFloat64(&cfg.Maker.MaxSpreadPercent, "SCALPBOT_MAKER_MAX_SPREAD_PERCENT")
	setInt(&cfg.Maker.VolWindow, "SCALPBOT_MAKER_VOL_WINDOW")
	setFloat64(&cfg.Maker.AnchorBandPercent, "SCALPBOT_MAKER_ANCHOR_BAND_PERCENT")
	setFloat64(&cfg.Maker.EmergencyBandPercent, "SCALPBOT_MAKER_EMERGENCY_BAND_PERCENT")
	setInt(&cfg.Maker.AnchorRollTrades, "SCALPBOT_MAKER_ANCHOR_ROLL_TRADES")
	setFloat64(&cfg.Maker.MaxPositionMultiplier, "SCALPBOT_MAKER_MAX_POSITION_MULTIPLIER")
	setFloat64(&cfg.Maker.DailyLossLimitPct, "SCALPBOT_MAKER_DAILY_LOSS_LIMIT_PCT")
	setInt(&cfg.Maker.MaxConsecutiveLosses, "SCALPBOT_MAKER_MAX_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Maker.BalanceEstimate, "SCALPBOT_MAKER_BALANCE_ESTIMATE")
	setDuration(&cfg.Maker.TickInterval, "SCALPBOT_MAKER_TICK_INTERVAL")
	setDuration(&cfg.Maker.QuoteTimeout, "SCALPBOT_MAKER_QUOTE_TIMEOUT")
	setDuration(&cfg.Maker.ReduceTimeout, "SCALPBOT_MAKER_REDUCE_TIMEOUT")

	// ── Fees ──
	setFloat64(&cfg.Fees.Maker, "SCALPBOT_FEES_MAKER")
	setFloat64(&cfg.Fees.Taker, "SCALPBOT_FEES_TAKER")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SCALPBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SCALPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SCALPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SCALPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SCALPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SCALPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SCALPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SCALPBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SCALPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SCALPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SCALPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SCALPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SCALPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SCALPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SCALPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SCALPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SCALPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SCALPBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SCALPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SCALPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SCALPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SCALPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SCALPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SCALPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SCALPBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SCALPBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveEvery, "SCALPBOT_S3_ARCHIVE_EVERY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SCALPBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SCALPBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SCALPBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SCALPBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SCALPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SCALPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SCALPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SCALPBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SCALPBOT_MODE")
	setStr(&cfg.LogLevel, "SCALPBOT_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
