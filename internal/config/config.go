// Package config defines the top-level configuration for the updown engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Feeds    FeedsConfig    `toml:"feeds"`
	Fees     FeesConfig     `toml:"fees"`
	Trading  TradingConfig  `toml:"trading"`
	Notify   NotifyConfig   `toml:"notify"`
	Venue    VenueConfig    `toml:"venue"`
	Sim      SimConfig      `toml:"sim"`
	Replay   ReplayConfig   `toml:"replay"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig holds the live order-placement endpoint parameters.
type VenueConfig struct {
	BaseURL          string  `toml:"base_url"`
	APIKey           string  `toml:"api_key"`
	OrdersPerSecond  float64 `toml:"orders_per_second"`
	RequestTimeoutMs int64   `toml:"request_timeout_ms"`
}

// SimConfig holds the simulated venue parameters.
type SimConfig struct {
	LatencyMs int64 `toml:"latency_ms"`
}

// ReplayConfig holds the recorded-stream replay parameters.
type ReplayConfig struct {
	File  string  `toml:"file"`
	Speed float64 `toml:"speed"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the record archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	ArchiveRetentionDays   int `toml:"archive_retention_days"`
	ArchiveIntervalMinutes int `toml:"archive_interval_minutes"`
}

// FeedsConfig holds the inbound stream endpoints and staleness bounds.
type FeedsConfig struct {
	FastWSURL     string   `toml:"fast_ws_url"`
	OracleWSURL   string   `toml:"oracle_ws_url"`
	QuoteWSURL    string   `toml:"quote_ws_url"`
	Assets        []string `toml:"assets"`
	MaxGapSeconds float64  `toml:"max_gap_seconds"`
}

// FeesConfig holds the venue fee/rebate schedule in basis points of notional.
type FeesConfig struct {
	TakerFeeBps    float64 `toml:"taker_fee_bps"`
	MakerRebateBps float64 `toml:"maker_rebate_bps"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TradingConfig holds the entry, exit, and sizing thresholds recognized by
// the detector and position manager. These form an immutable snapshot per
// evaluation cycle; changes never retroactively mutate in-flight positions.
type TradingConfig struct {
	Enabled             bool    `toml:"enabled"`
	MinDeltaUSD         float64 `toml:"min_delta_usd"`
	MinSharePrice       float64 `toml:"min_share_price"`
	MaxSharePrice       float64 `toml:"max_share_price"`
	MinSecondsRemaining float64 `toml:"min_seconds_remaining"`
	MaxSecondsRemaining float64 `toml:"max_seconds_remaining"`
	TakeProfitEnabled   bool    `toml:"take_profit_enabled"`
	TakeProfitCents     float64 `toml:"take_profit_cents"`
	StopLossEnabled     bool    `toml:"stop_loss_enabled"`
	StopLossCents       float64 `toml:"stop_loss_cents"`
	HoldTimeoutMs       int64   `toml:"hold_timeout_ms"`
	TradeSizeUSD        float64 `toml:"trade_size_usd"`
	MaxExposureUSD      float64 `toml:"max_exposure_usd"`
	MinOrderIntervalMs  int64   `toml:"min_order_interval_ms"`
	FillTimeoutMs       int64   `toml:"fill_timeout_ms"`
	DeltaWindowSeconds  float64 `toml:"delta_window_seconds"`

	Hedge    HedgeConfig    `toml:"hedge"`
	Toxicity ToxicityConfig `toml:"toxicity"`

	// Overrides maps asset symbol to a partial override of the base thresholds.
	Overrides map[string]AssetOverride `toml:"overrides"`
}

// HedgeConfig holds the hedge-urgency and escalation parameters.
type HedgeConfig struct {
	UrgencySeconds float64 `toml:"urgency_seconds"`
	MaxAttempts    int     `toml:"max_attempts"`
	BackoffMs      int64   `toml:"backoff_ms"`
	PanicMaxPrice  float64 `toml:"panic_max_price"`
	CooldownMs     int64   `toml:"cooldown_ms"`
}

// ToxicityConfig holds the adverse-selection filter parameters. The scoring
// formula itself is pluggable; these bound the default heuristic.
type ToxicityConfig struct {
	Enabled            bool    `toml:"enabled"`
	WindowSeconds      float64 `toml:"window_seconds"`
	MinSamples         int     `toml:"min_samples"`
	MaxAskVolatility   float64 `toml:"max_ask_volatility"`
	LiquidityPullRatio float64 `toml:"liquidity_pull_ratio"`
}

// AssetOverride is a sparse per-asset override; nil fields inherit the base.
type AssetOverride struct {
	Enabled             *bool    `toml:"enabled"`
	MinDeltaUSD         *float64 `toml:"min_delta_usd"`
	MinSharePrice       *float64 `toml:"min_share_price"`
	MaxSharePrice       *float64 `toml:"max_share_price"`
	MinSecondsRemaining *float64 `toml:"min_seconds_remaining"`
	MaxSecondsRemaining *float64 `toml:"max_seconds_remaining"`
	TradeSizeUSD        *float64 `toml:"trade_size_usd"`
	MinOrderIntervalMs  *int64   `toml:"min_order_interval_ms"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "sim",
		LogLevel: "info",
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "updown",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 16,
		},
		Feeds: FeedsConfig{
			MaxGapSeconds: 10,
		},
		Fees: FeesConfig{
			TakerFeeBps:    100,
			MakerRebateBps: 25,
		},
		S3: S3Config{
			Region:                 "us-east-1",
			ArchiveRetentionDays:   30,
			ArchiveIntervalMinutes: 360,
		},
		Venue: VenueConfig{
			OrdersPerSecond:  5,
			RequestTimeoutMs: 5_000,
		},
		Sim: SimConfig{
			LatencyMs: 150,
		},
		Replay: ReplayConfig{
			Speed: 1,
		},
		Trading: TradingConfig{
			Enabled:             true,
			MinDeltaUSD:         10,
			MinSharePrice:       0.10,
			MaxSharePrice:       0.90,
			MinSecondsRemaining: 30,
			MaxSecondsRemaining: 600,
			TakeProfitEnabled:   true,
			TakeProfitCents:     3,
			StopLossEnabled:     true,
			StopLossCents:       3,
			HoldTimeoutMs:       60_000,
			TradeSizeUSD:        50,
			MaxExposureUSD:      500,
			MinOrderIntervalMs:  5_000,
			FillTimeoutMs:       3_000,
			DeltaWindowSeconds:  30,
			Toxicity: ToxicityConfig{
				Enabled:            true,
				WindowSeconds:      20,
				MinSamples:         4,
				MaxAskVolatility:   0.05,
				LiquidityPullRatio: 0.35,
			},
			Hedge: HedgeConfig{
				UrgencySeconds: 45,
				MaxAttempts:    3,
				BackoffMs:      500,
				PanicMaxPrice:  0.97,
				CooldownMs:     10_000,
			},
		},
	}
}

// Validate checks the configuration for fatal startup errors. Missing
// required feeds are the only unrecoverable condition; everything else is
// handled at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "sim", "live", "replay":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}
	if len(c.Feeds.Assets) == 0 {
		return fmt.Errorf("config: feeds.assets must list at least one asset")
	}
	if strings.ToLower(c.Mode) == "live" {
		if c.Feeds.FastWSURL == "" {
			return fmt.Errorf("config: feeds.fast_ws_url is required in live mode")
		}
		if c.Feeds.OracleWSURL == "" {
			return fmt.Errorf("config: feeds.oracle_ws_url is required in live mode")
		}
		if c.Feeds.QuoteWSURL == "" {
			return fmt.Errorf("config: feeds.quote_ws_url is required in live mode")
		}
		if c.Venue.BaseURL == "" {
			return fmt.Errorf("config: venue.base_url is required in live mode")
		}
	}
	if strings.ToLower(c.Mode) == "replay" && c.Replay.File == "" {
		return fmt.Errorf("config: replay.file is required in replay mode")
	}
	if c.Feeds.MaxGapSeconds <= 0 {
		return fmt.Errorf("config: feeds.max_gap_seconds must be positive")
	}
	t := c.Trading
	if t.MinSharePrice < 0 || t.MaxSharePrice > 1 || t.MinSharePrice >= t.MaxSharePrice {
		return fmt.Errorf("config: trading share price band [%.2f, %.2f] invalid", t.MinSharePrice, t.MaxSharePrice)
	}
	if t.MinSecondsRemaining < 0 || t.MinSecondsRemaining >= t.MaxSecondsRemaining {
		return fmt.Errorf("config: trading seconds-remaining window [%.0f, %.0f] invalid", t.MinSecondsRemaining, t.MaxSecondsRemaining)
	}
	if t.TradeSizeUSD <= 0 {
		return fmt.Errorf("config: trading.trade_size_usd must be positive")
	}
	if t.MaxExposureUSD > 0 && t.MaxExposureUSD < t.TradeSizeUSD {
		return fmt.Errorf("config: trading.max_exposure_usd below trade_size_usd")
	}
	if t.Hedge.PanicMaxPrice <= 0 || t.Hedge.PanicMaxPrice > 1 {
		return fmt.Errorf("config: trading.hedge.panic_max_price must be in (0, 1]")
	}
	return nil
}
