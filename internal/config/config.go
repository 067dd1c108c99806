// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Paper     PaperConfig     `mapstructure:"paper"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Presign   PresignConfig   `mapstructure:"presign"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Status    StatusConfig    `mapstructure:"status"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PaperConfig switches the engine onto the simulated execution path.
// Reads still hit the live venue; order placement goes to the simulator.
type PaperConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	FillProbability      float64       `mapstructure:"fill_probability"` // chance an attempt fills at all, in [0,1]
	SlippageBps          int           `mapstructure:"slippage_bps"`     // applied against the taker
	OrderbookRefreshSecs time.Duration `mapstructure:"orderbook_refresh"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds venue API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the client derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// RateLimitConfig caps write throughput to the venue. Orders and cancels
// must clear both buckets: Burst smooths spikes inside a second, Sustained
// bounds the long-run rate.
type RateLimitConfig struct {
	BurstPerSec     float64 `mapstructure:"burst_per_sec"`
	SustainedPerSec float64 `mapstructure:"sustained_per_sec"`
}

// ScannerConfig controls market discovery and opportunity tracking.
type ScannerConfig struct {
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	MaxTrackedMarkets int           `mapstructure:"max_tracked_markets"`
	MaxPages          int           `mapstructure:"max_pages"`  // pagination bound on the market fetch
	BatchSize         int           `mapstructure:"batch_size"` // books fetched per concurrent batch

	// ScanFilter
	RequireActive    bool     `mapstructure:"require_active"`
	Categories       []string `mapstructure:"categories"` // allow-list; empty = all
	IncludeTags      []string `mapstructure:"include_tags"`
	ExcludeTags      []string `mapstructure:"exclude_tags"`
	QuestionPatterns []string `mapstructure:"question_patterns"` // regexes; any match keeps the market
	MinHoursToExpiry float64  `mapstructure:"min_hours_to_expiry"`
	MaxHoursToExpiry float64  `mapstructure:"max_hours_to_expiry"` // 0 = unbounded

	// LiquidityScreen
	MinDepthUSD    float64 `mapstructure:"min_depth_usd"`
	MaxSpread      float64 `mapstructure:"max_spread"`
	MinBidDepthUSD float64 `mapstructure:"min_bid_depth_usd"`
	MinAskDepthUSD float64 `mapstructure:"min_ask_depth_usd"`
}

// FeedsConfig groups the three feed sources.
type FeedsConfig struct {
	Economic EconomicFeedConfig `mapstructure:"economic"`
	Sports   SportsFeedConfig   `mapstructure:"sports"`
	Crypto   CryptoFeedConfig   `mapstructure:"crypto"`
}

// EconomicFeedConfig drives the BLS-style release poller.
type EconomicFeedConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Endpoint        string        `mapstructure:"endpoint"`
	SeriesIDs       []string      `mapstructure:"series_ids"`
	RegistrationKey string        `mapstructure:"registration_key"`
}

// SportsFeedConfig drives the scoreboard poller.
type SportsFeedConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Endpoint     string        `mapstructure:"endpoint"` // base URL; /<sport>/<league>/scoreboard appended
	Leagues      []string      `mapstructure:"leagues"`  // "basketball/nba" form
}

// CryptoFeedConfig drives the exchange WebSocket sessions and the
// cross-validation poll.
type CryptoFeedConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	PollInterval           time.Duration `mapstructure:"poll_interval"` // cross-validation + move detection cadence
	Pairs                  []string      `mapstructure:"pairs"`         // "BTC_USDT" form
	Exchanges              []string      `mapstructure:"exchanges"`     // subset of binance, coinbase, kraken
	PriceMoveThresholdPct  float64       `mapstructure:"price_move_threshold_pct"`
	ValidationThresholdPct float64       `mapstructure:"validation_threshold_pct"`
	BinanceWSURL           string        `mapstructure:"binance_ws_url"`
	CoinbaseWSURL          string        `mapstructure:"coinbase_ws_url"`
	KrakenWSURL            string        `mapstructure:"kraken_ws_url"`
}

// StrategyConfig tunes the match → signal → size pipeline.
//
//   - MaxStaleness: reject events observed longer ago than this.
//   - MinEdge: global floor on |fair − price|; per-category overrides win
//     when > 0.
//   - UseKelly/KellyFraction: fractional Kelly sizing over the flat base size.
//   - MaxSlippage: price allowance added to FOK market orders.
//   - CooldownPeriod: per-condition lockout after a trade.
//   - PriorityWeights: composite ordering of simultaneous matches.
type StrategyConfig struct {
	MatchConfidenceThreshold float64 `mapstructure:"match_confidence_threshold"`

	MaxStaleness    time.Duration `mapstructure:"max_staleness"`
	MinEdge         float64       `mapstructure:"min_edge"`
	EconomicMinEdge float64       `mapstructure:"economic_min_edge"`
	SportsMinEdge   float64       `mapstructure:"sports_min_edge"`
	CryptoMinEdge   float64       `mapstructure:"crypto_min_edge"`

	BaseSizeUSD   float64 `mapstructure:"base_size_usd"`
	MaxSizeUSD    float64 `mapstructure:"max_size_usd"`
	MinProfitUSD  float64 `mapstructure:"min_profit_usd"`
	UseKelly      bool    `mapstructure:"use_kelly"`
	KellyFraction float64 `mapstructure:"kelly_fraction"`

	OrderType   string  `mapstructure:"order_type"` // FOK (default), GTC, GTD
	MaxSlippage float64 `mapstructure:"max_slippage"`

	MaxTradesPerEvent int           `mapstructure:"max_trades_per_event"`
	CooldownPeriod    time.Duration `mapstructure:"cooldown_period"`

	OpportunityWeight float64            `mapstructure:"opportunity_weight"`
	ConfidenceWeight  float64            `mapstructure:"confidence_weight"`
	EdgeWeight        float64            `mapstructure:"edge_weight"`
	CategoryWeight    float64            `mapstructure:"category_weight"`
	CategoryWeights   map[string]float64 `mapstructure:"category_weights"` // per-category value in [0,1]
}

// RiskConfig sets the hard pre-trade limits and kill-switch triggers.
type RiskConfig struct {
	MaxDailyLossUSD        float64 `mapstructure:"max_daily_loss_usd"`
	BankrollUSD            float64 `mapstructure:"bankroll_usd"`
	MaxBankrollPctPerEvent float64 `mapstructure:"max_bankroll_pct_per_event"` // fraction in (0,1]
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	MinOrderbookDepthUSD   float64 `mapstructure:"min_orderbook_depth_usd"`
	MaxSpread              float64 `mapstructure:"max_spread"`

	// Quality filter
	MinDirectionalDepthUSD float64 `mapstructure:"min_directional_depth_usd"`
	MaxFeeRateBps          int     `mapstructure:"max_fee_rate_bps"`

	// Kill switch
	MaxConsecutiveLosses  int     `mapstructure:"max_consecutive_losses"`
	ErrorRateWindow       int     `mapstructure:"error_rate_window"` // ring size of recent trade outcomes
	MaxErrorRatePct       float64 `mapstructure:"max_error_rate_pct"`
	ConnectivityMaxErrors int     `mapstructure:"connectivity_max_errors"`
}

// PresignConfig controls the market-params cache and the pre-signed order pool.
type PresignConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	ParamsTTL          time.Duration `mapstructure:"params_ttl"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"` // re-sign when closer to expiry than this
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	ExpirationSecs     int64         `mapstructure:"expiration_secs"` // venue-side order expiry; 0 disables
}

// OracleConfig configures dispute tracking and the whale watch list.
type OracleConfig struct {
	WhaleAddresses []string `mapstructure:"whale_addresses"` // compared case-insensitively
}

// AlertsConfig controls operator notification routing.
type AlertsConfig struct {
	ThrottleSecs     time.Duration `mapstructure:"throttle"`
	DailySummaryHour int           `mapstructure:"daily_summary_hour"` // UTC hour [0,23]
	DecisionLogPath  string        `mapstructure:"decision_log_path"`

	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// MetricsConfig bounds the in-memory metric stores.
type MetricsConfig struct {
	MaxLatencySamples int `mapstructure:"max_latency_samples"`
}

// StatusConfig controls the read-only operator HTTP API.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ARB_PRIVATE_KEY, ARB_API_KEY, ARB_API_SECRET,
// ARB_PASSPHRASE, ARB_TELEGRAM_TOKEN, ARB_BLS_REGISTRATION_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper lowercases map keys; category lookups use the upper-case enum values.
	if len(cfg.Strategy.CategoryWeights) > 0 {
		weights := make(map[string]float64, len(cfg.Strategy.CategoryWeights))
		for k, w := range cfg.Strategy.CategoryWeights {
			weights[strings.ToUpper(k)] = w
		}
		cfg.Strategy.CategoryWeights = weights
	}

	// Override sensitive fields from env
	if key := os.Getenv("ARB_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("ARB_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("ARB_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("ARB_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if tok := os.Getenv("ARB_TELEGRAM_TOKEN"); tok != "" {
		cfg.Alerts.TelegramToken = tok
	}
	if key := os.Getenv("ARB_BLS_REGISTRATION_KEY"); key != "" {
		cfg.Feeds.Economic.RegistrationKey = key
	}
	if os.Getenv("ARB_PAPER") == "true" || os.Getenv("ARB_PAPER") == "1" {
		cfg.Paper.Enabled = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.Paper.Enabled {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required (set ARB_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (PROXY), 2 (GNOSIS_SAFE)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Paper.Enabled && (c.Paper.FillProbability < 0 || c.Paper.FillProbability > 1) {
		return fmt.Errorf("paper.fill_probability must be in [0,1]")
	}
	if c.RateLimit.BurstPerSec <= 0 || c.RateLimit.SustainedPerSec <= 0 {
		return fmt.Errorf("rate_limit.burst_per_sec and rate_limit.sustained_per_sec must be > 0")
	}
	if c.Scanner.MaxTrackedMarkets <= 0 {
		return fmt.Errorf("scanner.max_tracked_markets must be > 0")
	}
	if c.Strategy.BaseSizeUSD <= 0 {
		return fmt.Errorf("strategy.base_size_usd must be > 0")
	}
	if c.Strategy.MaxSizeUSD < c.Strategy.BaseSizeUSD {
		return fmt.Errorf("strategy.max_size_usd must be >= strategy.base_size_usd")
	}
	if c.Strategy.UseKelly && (c.Strategy.KellyFraction <= 0 || c.Strategy.KellyFraction > 1) {
		return fmt.Errorf("strategy.kelly_fraction must be in (0,1] when use_kelly is set")
	}
	switch c.Strategy.OrderType {
	case "", "FOK", "GTC", "GTD":
	default:
		return fmt.Errorf("strategy.order_type must be FOK, GTC, or GTD")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		return fmt.Errorf("risk.max_daily_loss_usd must be > 0")
	}
	if c.Risk.BankrollUSD <= 0 {
		return fmt.Errorf("risk.bankroll_usd must be > 0")
	}
	if c.Risk.MaxBankrollPctPerEvent <= 0 || c.Risk.MaxBankrollPctPerEvent > 1 {
		return fmt.Errorf("risk.max_bankroll_pct_per_event must be in (0,1]")
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk.max_concurrent_positions must be > 0")
	}
	if c.Alerts.DailySummaryHour < 0 || c.Alerts.DailySummaryHour > 23 {
		return fmt.Errorf("alerts.daily_summary_hour must be in [0,23]")
	}
	if c.Alerts.TelegramEnabled && c.Alerts.TelegramToken == "" {
		return fmt.Errorf("alerts.telegram_token is required when telegram is enabled (set ARB_TELEGRAM_TOKEN)")
	}
	return nil
}

// OrderTypeOrDefault returns the configured order type, defaulting to FOK.
func (s StrategyConfig) OrderTypeOrDefault() string {
	if s.OrderType == "" {
		return "FOK"
	}
	return s.OrderType
}

// MinEdgeFor returns the per-category edge floor, falling back to the global
// MinEdge when the override is unset.
func (s StrategyConfig) MinEdgeFor(category string) float64 {
	switch category {
	case "ECONOMIC":
		if s.EconomicMinEdge > 0 {
			return s.EconomicMinEdge
		}
	case "SPORTS":
		if s.SportsMinEdge > 0 {
			return s.SportsMinEdge
		}
	case "CRYPTO":
		if s.CryptoMinEdge > 0 {
			return s.CryptoMinEdge
		}
	}
	return s.MinEdge
}
