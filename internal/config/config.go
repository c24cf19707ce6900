// Package config handles configuration management with validation for the
// trading core, composed from file defaults, environment overlay, and
// explicit runtime overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration surface the trading core reads at
// startup.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	MarketData  MarketDataConfig  `yaml:"market_data"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Risk        RiskConfig        `yaml:"risk"`
	Signal      SignalConfig      `yaml:"signal"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	LogLevel      string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	DryRunEnabled bool   `yaml:"dry_run_enabled"`
	DMSEnabled    bool   `yaml:"dms_enabled"`
	Timezone      string `yaml:"timezone"`
}

// ExchangeConfig holds Bitfinex credentials and connection behavior.
type ExchangeConfig struct {
	APIKey           Secret `yaml:"api_key" validate:"required"`
	APISecret        Secret `yaml:"api_secret" validate:"required"`
	BaseRESTURL      string `yaml:"base_rest_url"`
	BaseWSURL        string `yaml:"base_ws_url"`
	WSConnectOnStart bool   `yaml:"ws_connect_on_start"`
}

// MarketDataConfig controls the WS-first/REST-fallback facade's
// freshness bounds.
type MarketDataConfig struct {
	TickerStaleSecs int      `yaml:"ws_ticker_stale_secs" validate:"min=1"`
	CandleStaleSecs int      `yaml:"candle_stale_secs" validate:"min=1"`
	Symbols         []string `yaml:"symbols" validate:"required,min=1"`
}

// RateLimitPattern configures one endpoint class's token bucket and its
// companion concurrency semaphore.
type RateLimitPattern struct {
	Class          string  `yaml:"class"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	Burst          int     `yaml:"burst"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
}

// RateLimitConfig is the full set of per-class token bucket parameters.
type RateLimitConfig struct {
	Patterns []RateLimitPattern `yaml:"rate_limit_patterns" validate:"required,min=1"`
}

// TradingWindow bounds the hours trading is permitted. The risk engine
// compares them with the current UTC hour; app.timezone is not applied.
type TradingWindow struct {
	StartHour int `yaml:"start_hour" validate:"min=0,max=23"`
	EndHour   int `yaml:"end_hour" validate:"min=0,max=24"`
}

// RiskConfig drives every gate in the risk policy pipeline.
type RiskConfig struct {
	MaxTradesPerDay           int             `yaml:"max_trades_per_day" validate:"min=0"`
	MaxTradesPerSymbolPerDay  int             `yaml:"max_trades_per_symbol_per_day" validate:"min=0"`
	TradeCooldownSeconds      int             `yaml:"trade_cooldown_seconds" validate:"min=0"`
	MaxDailyLossPct           float64         `yaml:"max_daily_loss_pct" validate:"min=0,max=1"`
	KillSwitchDrawdownPct     float64         `yaml:"kill_switch_drawdown_pct" validate:"min=0,max=1"`
	TradingWindows            []TradingWindow `yaml:"trading_windows"`
	MaxExposurePerSymbolQuote float64         `yaml:"max_exposure_per_symbol_quote" validate:"min=0"`
}

// PersistenceConfig names the on-disk locations for snapshot/audit state
// the process keeps across restarts.
type PersistenceConfig struct {
	BracketSnapshotPath string `yaml:"bracket_snapshot_path" validate:"required"`
	NoncePath           string `yaml:"nonce_path" validate:"required"`
	AuditDBPath         string `yaml:"audit_db_path" validate:"required"`
	ProbModelFile       string `yaml:"prob_model_file"`
}

// SignalConfig tunes the indicator periods, side-decision thresholds,
// and result cache the signal engine uses.
type SignalConfig struct {
	FastEMAPeriod     int     `yaml:"fast_ema_period" validate:"min=1"`
	SlowEMAPeriod     int     `yaml:"slow_ema_period" validate:"min=1"`
	RSIPeriod         int     `yaml:"rsi_period" validate:"min=1"`
	RSIUpperThreshold float64 `yaml:"rsi_upper_threshold"`
	RSILowerThreshold float64 `yaml:"rsi_lower_threshold"`
	ATRPeriod         int     `yaml:"atr_period" validate:"min=1"`
	ADXPeriod         int     `yaml:"adx_period" validate:"min=1"`
	CacheTTLSeconds   int     `yaml:"cache_ttl_seconds" validate:"min=1"`
	SeriesCapacity    int     `yaml:"series_capacity" validate:"min=1"`
}

// TelemetryConfig contains metrics/tracing export settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	HealthPort    int  `yaml:"health_port"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Source composes configuration from three layers in increasing
// precedence: file defaults, environment overlay, explicit runtime
// overrides.
type Source struct {
	fileDefaults *Config
	overrides    map[string]string
}

// NewSource loads file defaults (with `os.Expand`-based env expansion
// applied to the raw YAML) and returns a Source ready to accept runtime
// overrides.
func NewSource(filename string) (*Source, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &Source{fileDefaults: &cfg, overrides: make(map[string]string)}, nil
}

// WithOverride records a runtime override, taking precedence over both the
// environment and the file defaults for the keys Resolve consults.
func (s *Source) WithOverride(key, value string) *Source {
	s.overrides[key] = value
	return s
}

// Resolve applies the runtime overrides on top of the file defaults
// (whose ${VAR} references were expanded from the environment once, when
// NewSource ran) and returns a validated Config. Only the log_level and
// dry_run_enabled override keys are consulted.
func (s *Source) Resolve() (*Config, error) {
	cfg := *s.fileDefaults

	if v, ok := s.overrides["log_level"]; ok {
		cfg.App.LogLevel = v
	}
	if v, ok := s.overrides["dry_run_enabled"]; ok {
		cfg.App.DryRunEnabled = v == "true"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfig is a convenience wrapper around NewSource().Resolve() for
// callers that have no runtime overrides to apply.
func LoadConfig(filename string) (*Config, error) {
	src, err := NewSource(filename)
	if err != nil {
		return nil, err
	}
	return src.Resolve()
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	for _, fn := range []func() error{
		c.validateApp,
		c.validateExchange,
		c.validateMarketData,
		c.validateRateLimit,
		c.validateRisk,
		c.validatePersistence,
	} {
		if err := fn(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{Field: "app.log_level", Value: c.App.LogLevel, Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))}
	}
	if c.App.Timezone != "" {
		if _, err := time.LoadLocation(c.App.Timezone); err != nil {
			return ValidationError{Field: "app.timezone", Value: c.App.Timezone, Message: err.Error()}
		}
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.APIKey == "" {
		return ValidationError{Field: "exchange.api_key", Message: "API key is required"}
	}
	if c.Exchange.APISecret == "" {
		return ValidationError{Field: "exchange.api_secret", Message: "API secret is required"}
	}
	return nil
}

func (c *Config) validateMarketData() error {
	if len(c.MarketData.Symbols) == 0 {
		return ValidationError{Field: "market_data.symbols", Message: "at least one symbol is required"}
	}
	if c.MarketData.TickerStaleSecs <= 0 {
		return ValidationError{Field: "market_data.ws_ticker_stale_secs", Value: c.MarketData.TickerStaleSecs, Message: "must be positive"}
	}
	if c.MarketData.CandleStaleSecs <= 0 {
		return ValidationError{Field: "market_data.candle_stale_secs", Value: c.MarketData.CandleStaleSecs, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if len(c.RateLimit.Patterns) == 0 {
		return ValidationError{Field: "rate_limit.rate_limit_patterns", Message: "at least one endpoint class pattern is required"}
	}
	for _, p := range c.RateLimit.Patterns {
		if p.Class == "" {
			return ValidationError{Field: "rate_limit.rate_limit_patterns", Message: "each pattern needs a class name"}
		}
		if p.RequestsPerSec <= 0 {
			return ValidationError{Field: fmt.Sprintf("rate_limit.rate_limit_patterns[%s].requests_per_sec", p.Class), Value: p.RequestsPerSec, Message: "must be positive"}
		}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.MaxDailyLossPct < 0 || c.Risk.MaxDailyLossPct > 1 {
		return ValidationError{Field: "risk.max_daily_loss_pct", Value: c.Risk.MaxDailyLossPct, Message: "must be within [0,1]"}
	}
	if c.Risk.KillSwitchDrawdownPct < 0 || c.Risk.KillSwitchDrawdownPct > 1 {
		return ValidationError{Field: "risk.kill_switch_drawdown_pct", Value: c.Risk.KillSwitchDrawdownPct, Message: "must be within [0,1]"}
	}
	for _, w := range c.Risk.TradingWindows {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
			return ValidationError{Field: "risk.trading_windows", Value: w, Message: "start_hour must be before end_hour within a day"}
		}
	}
	return nil
}

func (c *Config) validatePersistence() error {
	if c.Persistence.BracketSnapshotPath == "" {
		return ValidationError{Field: "persistence.bracket_snapshot_path", Message: "required"}
	}
	if c.Persistence.NoncePath == "" {
		return ValidationError{Field: "persistence.nonce_path", Message: "required"}
	}
	if c.Persistence.AuditDBPath == "" {
		return ValidationError{Field: "persistence.audit_db_path", Message: "required"}
	}
	return nil
}

// String returns a YAML representation of the configuration with secrets
// redacted by their Secret.MarshalYAML implementation.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration suitable for tests and
// dry-run startup.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:      "INFO",
			DryRunEnabled: true,
			DMSEnabled:    true,
			Timezone:      "UTC",
		},
		Exchange: ExchangeConfig{
			APIKey:           "test_api_key",
			APISecret:        "test_api_secret",
			BaseRESTURL:      "https://api.bitfinex.com",
			BaseWSURL:        "wss://api.bitfinex.com/ws/2",
			WSConnectOnStart: true,
		},
		MarketData: MarketDataConfig{
			TickerStaleSecs: 10,
			CandleStaleSecs: 120,
			Symbols:         []string{"tBTCUSD"},
		},
		RateLimit: RateLimitConfig{
			Patterns: []RateLimitPattern{
				{Class: "public", RequestsPerSec: 10, Burst: 20, MaxConcurrent: 10},
				{Class: "order_submit", RequestsPerSec: 2, Burst: 4, MaxConcurrent: 2},
				{Class: "order_cancel", RequestsPerSec: 4, Burst: 8, MaxConcurrent: 4},
				{Class: "account", RequestsPerSec: 5, Burst: 10, MaxConcurrent: 5},
			},
		},
		Risk: RiskConfig{
			MaxTradesPerDay:          100,
			MaxTradesPerSymbolPerDay: 30,
			TradeCooldownSeconds:     5,
			MaxDailyLossPct:          0.03,
			KillSwitchDrawdownPct:    0.10,
			TradingWindows:           []TradingWindow{{StartHour: 0, EndHour: 24}},
		},
		Signal: SignalConfig{
			FastEMAPeriod:     12,
			SlowEMAPeriod:     26,
			RSIPeriod:         14,
			RSIUpperThreshold: 55,
			RSILowerThreshold: 45,
			ATRPeriod:         14,
			ADXPeriod:         14,
			CacheTTLSeconds:   30,
			SeriesCapacity:    200,
		},
		Persistence: PersistenceConfig{
			BracketSnapshotPath: "./data/brackets.json",
			NoncePath:           "./data/nonce.json",
			AuditDBPath:         "./data/audit.db",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
			HealthPort:    8080,
		},
	}
}
