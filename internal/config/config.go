// Package config defines the top-level configuration for the scalping bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SCALPBOT_* environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	Trading  TradingConfig  `toml:"trading"`
	Maker    MakerConfig    `toml:"maker"`
	Fees     FeesConfig     `toml:"fees"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds the venue API endpoints and credentials.
type BinanceConfig struct {
	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	BaseURL             string `toml:"base_url"`
	WsURL               string `toml:"ws_url"`
	RecvWindowMs        int    `toml:"recv_window_ms"`
}

// TradingConfig holds the scalping cycle parameters.
type TradingConfig struct {
	Symbol   string  `toml:"symbol"`
	Quantity float64 `toml:"quantity"`
	Leverage int     `toml:"leverage"`

	// InitialDirection is the starting bias: "LONG" or "SHORT".
	InitialDirection string `toml:"initial_direction"`

	EntryLevel      int `toml:"entry_level"`
	TakeProfitLevel int `toml:"take_profit_level"`
	StopLossLevel   int `toml:"stop_loss_level"`

	UseRiskReward bool `toml:"use_risk_reward"`
	// SLDistancePercent is in percent units: 0.1 places the stop 0.1%
	// from entry.
	SLDistancePercent float64 `toml:"sl_distance_percent"`
	RiskRewardRatio   float64 `toml:"risk_reward_ratio"`

	LossFlipThreshold int `toml:"loss_flip_threshold"`

	DepthLevels    int      `toml:"depth_levels"`
	CycleDelay     duration `toml:"cycle_delay"`
	PollInterval   duration `toml:"poll_interval"`
	EntryTimeout   duration `toml:"entry_timeout"`
	MonitorCeiling duration `toml:"monitor_ceiling"`
	BookRetries    int      `toml:"book_retries"`
	BookRetryDelay duration `toml:"book_retry_delay"`
}

// MakerConfig holds the market-making strategy parameters.
type MakerConfig struct {
	BaseQuantity      float64 `toml:"base_quantity"`
	BaseSpreadPercent float64 `toml:"base_spread_percent"`
	VolCoefficient    float64 `toml:"vol_coefficient"`
	MinSpreadPercent  float64 `toml:"min_spread_percent"`
	MaxSpreadPercent  float64 `toml:"max_spread_percent"`
	VolWindow         int     `toml:"vol_window"`

	AnchorBandPercent    float64 `toml:"anchor_band_percent"`
	EmergencyBandPercent float64 `toml:"emergency_band_percent"`
	AnchorRollTrades     int     `toml:"anchor_roll_trades"`

	MaxPositionMultiplier float64 `toml:"max_position_multiplier"`
	DailyLossLimitPct     float64 `toml:"daily_loss_limit_pct"`
	MaxConsecutiveLosses  int     `toml:"max_consecutive_losses"`
	BalanceEstimate       float64 `toml:"balance_estimate"`

	TickInterval  duration `toml:"tick_interval"`
	QuoteTimeout  duration `toml:"quote_timeout"`
	ReduceTimeout duration `toml:"reduce_timeout"`
}

// FeesConfig holds the venue fee fractions per leg.
type FeesConfig struct {
	Maker float64 `toml:"maker"`
	Taker float64 `toml:"taker"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Enabled       bool   `toml:"enabled"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Enabled    bool   `toml:"enabled"`
}

// S3Config holds S3-compatible object storage parameters for trade-log
// archival.
type S3Config struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Enabled        bool     `toml:"enabled"`
	ArchiveEvery   duration `toml:"archive_every"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			BaseURL:      "https://fapi.binance.com",
			WsURL:        "wss://fstream.binance.com/ws",
			RecvWindowMs: 5000,
		},
		Trading: TradingConfig{
			Symbol:            "BTCUSDT",
			Quantity:          0.002,
			Leverage:          5,
			InitialDirection:  "LONG",
			EntryLevel:        2,
			TakeProfitLevel:   10,
			StopLossLevel:     8,
			UseRiskReward:     true,
			SLDistancePercent: 0.1,
			RiskRewardRatio:   2,
			LossFlipThreshold: 3,
			DepthLevels:       20,
			CycleDelay:        duration{2 * time.Second},
			PollInterval:      duration{time.Second},
			EntryTimeout:      duration{60 * time.Second},
			MonitorCeiling:    duration{4 * time.Hour},
			BookRetries:       3,
			BookRetryDelay:    duration{500 * time.Millisecond},
		},
		Maker: MakerConfig{
			BaseQuantity:          0.002,
			BaseSpreadPercent:     0.05,
			VolCoefficient:        1,
			MinSpreadPercent:      0.02,
			MaxSpreadPercent:      0.3,
			VolWindow:             60,
			AnchorBandPercent:     0.02,
			EmergencyBandPercent:  0.04,
			AnchorRollTrades:      10,
			MaxPositionMultiplier: 3,
			DailyLossLimitPct:     0.05,
			MaxConsecutiveLosses:  5,
			BalanceEstimate:       1000,
			TickInterval:          duration{time.Second},
			QuoteTimeout:          duration{30 * time.Second},
			ReduceTimeout:         duration{15 * time.Second},
		},
		Fees: FeesConfig{
			Maker: 0.0002,
			Taker: 0.0005,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "scalpbot",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   8,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:       "us-east-1",
			ArchiveEvery: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "cycle",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"cycle":   true,
	"maker":   true,
	"monitor": true,
	"server":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: cycle, maker, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Credentials are mandatory for trading modes.
	needsKeys := c.Mode == "cycle" || c.Mode == "maker"
	if needsKeys {
		if c.Binance.ApiKey == "" {
			errs = append(errs, "binance: api_key must be set for mode "+c.Mode)
		}
		if c.Binance.ApiSecret == "" && c.Binance.EncryptedSecretPath == "" {
			errs = append(errs, "binance: either api_secret or encrypted_secret_path must be set for mode "+c.Mode)
		}
		if c.Binance.EncryptedSecretPath != "" && c.Binance.SecretPassword == "" {
			errs = append(errs, "binance: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Binance.BaseURL == "" {
		errs = append(errs, "binance: base_url must not be empty")
	}
	if c.Binance.WsURL == "" {
		errs = append(errs, "binance: ws_url must not be empty")
	}
	if c.Binance.RecvWindowMs <= 0 {
		errs = append(errs, "binance: recv_window_ms must be positive")
	}

	// Trading
	if c.Trading.Symbol == "" {
		errs = append(errs, "trading: symbol must not be empty")
	}
	if c.Trading.Quantity <= 0 {
		errs = append(errs, "trading: quantity must be > 0")
	}
	if c.Trading.Leverage < 1 {
		errs = append(errs, "trading: leverage must be >= 1")
	}
	dir := strings.ToUpper(c.Trading.InitialDirection)
	if dir != "LONG" && dir != "SHORT" {
		errs = append(errs, fmt.Sprintf("trading: initial_direction must be LONG or SHORT, got %q", c.Trading.InitialDirection))
	}
	if c.Trading.EntryLevel < 1 {
		errs = append(errs, "trading: entry_level must be >= 1")
	}
	if c.Trading.UseRiskReward {
		if c.Trading.SLDistancePercent <= 0 {
			errs = append(errs, "trading: sl_distance_percent must be > 0 with use_risk_reward")
		}
		if c.Trading.RiskRewardRatio <= 0 {
			errs = append(errs, "trading: risk_reward_ratio must be > 0 with use_risk_reward")
		}
	} else {
		if c.Trading.TakeProfitLevel < 1 {
			errs = append(errs, "trading: take_profit_level must be >= 1")
		}
		if c.Trading.StopLossLevel < 1 {
			errs = append(errs, "trading: stop_loss_level must be >= 1")
		}
	}
	if c.Trading.LossFlipThreshold < 1 {
		errs = append(errs, "trading: loss_flip_threshold must be >= 1")
	}
	switch c.Trading.DepthLevels {
	case 5, 10, 20:
	default:
		errs = append(errs, fmt.Sprintf("trading: depth_levels must be 5, 10 or 20, got %d", c.Trading.DepthLevels))
	}

	// Maker
	if c.Mode == "maker" {
		if c.Maker.BaseQuantity <= 0 {
			errs = append(errs, "maker: base_quantity must be > 0")
		}
		if c.Maker.BaseSpreadPercent <= 0 {
			errs = append(errs, "maker: base_spread_percent must be > 0")
		}
		if c.Maker.MinSpreadPercent > c.Maker.MaxSpreadPercent && c.Maker.MaxSpreadPercent > 0 {
			errs = append(errs, "maker: min_spread_percent must not exceed max_spread_percent")
		}
		if c.Maker.AnchorBandPercent <= 0 {
			errs = append(errs, "maker: anchor_band_percent must be > 0")
		}
		if c.Maker.EmergencyBandPercent > 0 && c.Maker.EmergencyBandPercent <= c.Maker.AnchorBandPercent {
			errs = append(errs, "maker: emergency_band_percent must exceed anchor_band_percent")
		}
		if c.Maker.MaxPositionMultiplier < 1 {
			errs = append(errs, "maker: max_position_multiplier must be >= 1")
		}
		if c.Maker.DailyLossLimitPct <= 0 || c.Maker.DailyLossLimitPct >= 1 {
			errs = append(errs, "maker: daily_loss_limit_pct must be in (0, 1)")
		}
		if c.Maker.BalanceEstimate <= 0 {
			errs = append(errs, "maker: balance_estimate must be > 0")
		}
	}

	// Fees
	if c.Fees.Maker < 0 || c.Fees.Taker < 0 {
		errs = append(errs, "fees: maker and taker rates must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" && c.S3.Endpoint == "" {
			errs = append(errs, "s3: region or endpoint must be set")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
