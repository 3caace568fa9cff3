// Package config defines the engine configuration: TOML file on top of
// built-in defaults, with SIGNALMESH_* environment overrides for secrets.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full configuration tree.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Exchanges map[string]ExchangeConfig `toml:"exchanges"`

	Cache      CacheConfig      `toml:"cache"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Evaluator  EvaluatorConfig  `toml:"evaluator"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	RiskGate   RiskGateConfig   `toml:"risk_gate"`
	Position   PositionConfig   `toml:"position"`

	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
}

// ExchangeConfig describes one market-data feed. Feed selects the ingestor:
// "binance" (native 24h ticker stream), "push" (generic websocket), or
// "poll" (fixed-interval REST).
type ExchangeConfig struct {
	Feed         string   `toml:"feed"`
	WsURL        string   `toml:"ws_url"`
	RestURL      string   `toml:"rest_url"`
	Symbols      []string `toml:"symbols"`
	PollInterval duration `toml:"poll_interval"`
}

// CacheConfig tunes the ticker cache.
type CacheConfig struct {
	TTL         duration `toml:"ttl"`
	HistorySize int      `toml:"history_size"`
}

// AggregatorConfig tunes signal aggregation.
type AggregatorConfig struct {
	ProviderWeights map[string]float64 `toml:"provider_weights"`
	ProviderTimeout duration           `toml:"provider_timeout"`

	StrongBuyBand float64 `toml:"strong_buy_band"`
	BuyBand       float64 `toml:"buy_band"`
	NeutralBand   float64 `toml:"neutral_band"`
	SellBand      float64 `toml:"sell_band"`

	GainRate float64 `toml:"gain_rate"`
	GainCap  float64 `toml:"gain_cap"`
	LossRate float64 `toml:"loss_rate"`
	LossCap  float64 `toml:"loss_cap"`
}

// ScannerConfig tunes the opportunity scanner.
type ScannerConfig struct {
	Interval      duration `toml:"interval"`
	QuoteAssets   []string `toml:"quote_assets"`
	StableQuotes  []string `toml:"stable_quotes"`
	PeerAllowList []string `toml:"peer_allow_list"`
	DeRiskDropPct float64  `toml:"derisk_drop_pct"`
	RefVolume     float64  `toml:"ref_volume"`

	GainRate float64 `toml:"gain_rate"`
	GainCap  float64 `toml:"gain_cap"`
	LossRate float64 `toml:"loss_rate"`
	LossCap  float64 `toml:"loss_cap"`
}

// EvaluatorConfig holds the dual-path cost model.
type EvaluatorConfig struct {
	FeeRate         float64 `toml:"fee_rate"`
	SlippageRate    float64 `toml:"slippage_rate"`
	CaptureFraction float64 `toml:"capture_fraction"`
	MinProfit       float64 `toml:"min_profit"`
}

// DispatchConfig tunes mission dispatch.
type DispatchConfig struct {
	Slots            map[string]int `toml:"slots"` // keyed by doctrine name
	GatePolicy       string         `toml:"gate_policy"`
	AmountPerMission float64        `toml:"amount_per_mission"`
	Interval         duration       `toml:"interval"`
}

// RiskGateConfig points at the external approval authority. An empty URL
// runs without a gate (allow-all).
type RiskGateConfig struct {
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// PositionConfig holds the exit thresholds. Percentages are of entry price.
type PositionConfig struct {
	CheckInterval      duration `toml:"check_interval"`
	MaxHold            duration `toml:"max_hold"`
	TargetProfitPct    float64  `toml:"target_profit_pct"`
	StopLossPct        float64  `toml:"stop_loss_pct"`
	TrailingStopPct    float64  `toml:"trailing_stop_pct"`
	ProfitLockPct      float64  `toml:"profit_lock_pct"`
	PartialProfitPct   float64  `toml:"partial_profit_pct"`
	PartialExitPct     float64  `toml:"partial_exit_pct"`
	ReversalPct        float64  `toml:"reversal_pct"`
	CoherenceThreshold float64  `toml:"coherence_threshold"`
}

// PostgresConfig holds mission/position persistence settings.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the event-bus connection settings.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the archive object-store settings.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
	RetentionDays   int      `toml:"retention_days"`
}

// NotifyConfig holds the operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the ops HTTP listener settings.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5s" or "4h".
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

// Defaults returns the built-in configuration: paper trading on the Binance
// public stream with no external services.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Exchanges: map[string]ExchangeConfig{
			"binance": {Feed: "binance"},
		},
		Cache: CacheConfig{
			TTL:         duration{2 * time.Second},
			HistorySize: 60,
		},
		Aggregator: AggregatorConfig{
			ProviderTimeout: duration{2 * time.Second},
			StrongBuyBand:   0.75,
			BuyBand:         0.60,
			NeutralBand:     0.40,
			SellBand:        0.25,
			GainRate:        0.5,
			GainCap:         0.1,
			LossRate:        0.25,
			LossCap:         0.05,
		},
		Scanner: ScannerConfig{
			Interval:      duration{5 * time.Second},
			QuoteAssets:   []string{"USDT", "USDC", "FDUSD", "BTC", "ETH"},
			StableQuotes:  []string{"USDT", "USDC", "FDUSD"},
			PeerAllowList: []string{"BTC", "ETH", "BNB", "SOL", "XRP", "ADA", "AVAX", "LINK"},
			DeRiskDropPct: -5.0,
			RefVolume:     50_000_000,
			GainRate:      0.25,
			GainCap:       0.05,
			LossRate:      0.125,
			LossCap:       0.025,
		},
		Evaluator: EvaluatorConfig{
			FeeRate:         0.001,
			SlippageRate:    0.0005,
			CaptureFraction: 0.25,
			MinProfit:       1.0,
		},
		Dispatch: DispatchConfig{
			Slots: map[string]int{
				"trend_following":      3,
				"capital_preservation": 5,
				"peer_rotation":        2,
				"exhaustive_sweep":     1,
			},
			GatePolicy:       "fail_open",
			AmountPerMission: 1000,
			Interval:         duration{10 * time.Second},
		},
		RiskGate: RiskGateConfig{
			Timeout: duration{3 * time.Second},
		},
		Position: PositionConfig{
			CheckInterval:      duration{time.Second},
			MaxHold:            duration{4 * time.Hour},
			TargetProfitPct:    3.0,
			StopLossPct:        0.5,
			TrailingStopPct:    0.2,
			ProfitLockPct:      1.0,
			PartialProfitPct:   1.5,
			PartialExitPct:     0.5,
			ReversalPct:        1.0,
			CoherenceThreshold: 0.3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "signalmesh",
			User:          "signalmesh",
			SSLMode:       "disable",
			MaxConns:      10,
			MinConns:      2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:          "us-east-1",
			ArchiveInterval: duration{time.Hour},
			RetentionDays:   30,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8088,
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":   true,
	"scan":  true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFeeds = map[string]bool{
	"binance": true,
	"push":    true,
	"poll":    true,
}

var validGatePolicies = map[string]bool{
	"fail_open":   true,
	"fail_closed": true,
}

// Validate checks the configuration and returns a combined error describing
// every problem found. A non-nil result is the only process-fatal condition
// in the engine.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, scan, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Exchanges) == 0 {
		errs = append(errs, "exchanges: at least one exchange must be configured")
	}
	for name, ex := range c.Exchanges {
		if !validFeeds[ex.Feed] {
			errs = append(errs, fmt.Sprintf("exchanges.%s: unknown feed %q (valid: binance, push, poll)", name, ex.Feed))
			continue
		}
		switch ex.Feed {
		case "push":
			if ex.WsURL == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: ws_url is required for push feeds", name))
			}
			if len(ex.Symbols) == 0 {
				errs = append(errs, fmt.Sprintf("exchanges.%s: symbols must not be empty for push feeds", name))
			}
		case "poll":
			if ex.RestURL == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: rest_url is required for poll feeds", name))
			}
			if len(ex.Symbols) == 0 {
				errs = append(errs, fmt.Sprintf("exchanges.%s: symbols must not be empty for poll feeds", name))
			}
			if ex.PollInterval.Duration <= 0 {
				errs = append(errs, fmt.Sprintf("exchanges.%s: poll_interval must be positive for poll feeds", name))
			}
		}
	}

	if c.Cache.TTL.Duration <= 0 {
		errs = append(errs, "cache: ttl must be positive")
	}
	if c.Cache.HistorySize < 2 {
		errs = append(errs, "cache: history_size must be >= 2")
	}

	bands := c.Aggregator
	if !(bands.StrongBuyBand > bands.BuyBand && bands.BuyBand > bands.NeutralBand && bands.NeutralBand > bands.SellBand) {
		errs = append(errs, "aggregator: bands must be strictly descending (strong_buy > buy > neutral > sell)")
	}
	if bands.SellBand <= 0 || bands.StrongBuyBand >= 1 {
		errs = append(errs, "aggregator: bands must lie inside (0, 1)")
	}
	sum := 0.0
	for name, w := range c.Aggregator.ProviderWeights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("aggregator: provider_weights.%s must not be negative", name))
		}
		sum += w
	}
	if sum > 1.0+1e-9 {
		errs = append(errs, fmt.Sprintf("aggregator: provider_weights sum to %.3f, must not exceed 1.0", sum))
	}

	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be positive")
	}
	if len(c.Scanner.QuoteAssets) == 0 {
		errs = append(errs, "scanner: quote_assets must not be empty")
	}
	if c.Scanner.DeRiskDropPct >= 0 {
		errs = append(errs, "scanner: derisk_drop_pct must be negative")
	}

	if c.Evaluator.CaptureFraction <= 0 || c.Evaluator.CaptureFraction > 1 {
		errs = append(errs, "evaluator: capture_fraction must be in (0, 1]")
	}
	if c.Evaluator.FeeRate < 0 || c.Evaluator.SlippageRate < 0 {
		errs = append(errs, "evaluator: fee_rate and slippage_rate must not be negative")
	}

	if !validGatePolicies[c.Dispatch.GatePolicy] {
		errs = append(errs, fmt.Sprintf("dispatch: unknown gate_policy %q (valid: fail_open, fail_closed)", c.Dispatch.GatePolicy))
	}
	for doctrine, slots := range c.Dispatch.Slots {
		if slots < 1 {
			errs = append(errs, fmt.Sprintf("dispatch: slots.%s must be >= 1", doctrine))
		}
	}
	if c.Dispatch.AmountPerMission <= 0 {
		errs = append(errs, "dispatch: amount_per_mission must be > 0")
	}

	if c.Position.CheckInterval.Duration <= 0 {
		errs = append(errs, "position: check_interval must be positive")
	}
	if c.Position.PartialExitPct <= 0 || c.Position.PartialExitPct >= 1 {
		errs = append(errs, "position: partial_exit_pct must be in (0, 1)")
	}

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
		if c.Postgres.MaxConns < 1 {
			errs = append(errs, "postgres: max_conns must be >= 1")
		}
		if c.Postgres.MinConns > c.Postgres.MaxConns {
			errs = append(errs, "postgres: min_conns must not exceed max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival requires postgres to be enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
