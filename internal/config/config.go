// Package config provides configuration management for the trading bot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tradebot/internal/bot"
	apperrors "tradebot/internal/errors"
	"tradebot/internal/ledger"
	"tradebot/internal/logging"
	"tradebot/internal/models"
	"tradebot/internal/risk"
	"tradebot/internal/telemetry"
)

// Config holds all application configuration.
type Config struct {
	Trading   TradingConfig     `mapstructure:"trading"`
	Risk      RiskConfig        `mapstructure:"risk"`
	Bot       BotConfig         `mapstructure:"bot"`
	Fees      FeeConfig         `mapstructure:"fees"`
	Broker    BrokerConfig      `mapstructure:"broker"`
	Store     StoreConfig       `mapstructure:"store"`
	Stream    StreamConfig      `mapstructure:"stream"`
	Market    MarketConfig      `mapstructure:"market"`
	Universe  UniverseConfig    `mapstructure:"universe"`
	Logging   logging.LogConfig `mapstructure:"logging"`
	Telemetry telemetry.Config  `mapstructure:"telemetry"`

	// Dir is the directory the config was loaded from.
	Dir string `mapstructure:"-"`
}

// TradingConfig holds account-level settings.
type TradingConfig struct {
	Mode           string  `mapstructure:"mode"` // "live", "paper"
	UserID         string  `mapstructure:"user_id"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	Product        string  `mapstructure:"product"` // MIS, CNC
}

// RiskConfig holds affordability gate and signal contract limits.
type RiskConfig struct {
	MaxCapitalUsage      float64 `mapstructure:"max_capital_usage"`
	MaxPositions         int     `mapstructure:"max_positions"`
	MaxSignalsPerCycle   int     `mapstructure:"max_signals_per_cycle"`
	MaxOrderCashFraction float64 `mapstructure:"max_order_cash_fraction"`
}

// BotConfig holds session defaults and loop timing.
type BotConfig struct {
	Strategy            string        `mapstructure:"strategy"`
	TargetProfit        float64       `mapstructure:"target_profit"`
	MaxDurationHours    float64       `mapstructure:"max_duration_hours"`
	CycleInterval       time.Duration `mapstructure:"cycle_interval"`
	SleepSlice          time.Duration `mapstructure:"sleep_slice"`
	ExitPositionsOnStop bool          `mapstructure:"exit_positions_on_stop"`
	StatusLogEvery      int           `mapstructure:"status_log_every"`
}

// FeeConfig is the brokerage and statutory charge table.
type FeeConfig struct {
	IntradayBrokerageRate float64 `mapstructure:"intraday_brokerage_rate"`
	BrokerageCap          float64 `mapstructure:"brokerage_cap"`
	DeliveryBrokerageRate float64 `mapstructure:"delivery_brokerage_rate"`
	STTRate               float64 `mapstructure:"stt_rate"`
	TransactionChargeRate float64 `mapstructure:"transaction_charge_rate"`
	GSTRate               float64 `mapstructure:"gst_rate"`
	SEBIRate              float64 `mapstructure:"sebi_rate"`
	StampDutyRate         float64 `mapstructure:"stamp_duty_rate"`
	ExitDiscount          float64 `mapstructure:"exit_discount"`
}

// BrokerConfig holds Kite credentials and call protection settings.
type BrokerConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	APISecret       string        `mapstructure:"api_secret"`
	AccessToken     string        `mapstructure:"access_token"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	QuoteBatchSize  int           `mapstructure:"quote_batch_size"`
	RateLimit       float64       `mapstructure:"rate_limit"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// StreamConfig holds event stream settings. An empty ListenAddr disables
// the websocket server.
type StreamConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// MarketConfig holds the exchange calendar.
type MarketConfig struct {
	Holidays []string `mapstructure:"holidays"` // YYYY-MM-DD
}

// UniverseConfig points at the symbol universe file. Empty uses the
// built-in universe.
type UniverseConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tradebot"
	}
	return filepath.Join(home, ".config", "tradebot")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.user_id", "local")
	v.SetDefault("trading.initial_capital", 1000000.0)
	v.SetDefault("trading.product", "CNC")

	v.SetDefault("risk.max_capital_usage", 0.8)
	v.SetDefault("risk.max_positions", 5)
	v.SetDefault("risk.max_signals_per_cycle", 10)
	v.SetDefault("risk.max_order_cash_fraction", 0.1)

	v.SetDefault("bot.strategy", "mean_reversion")
	v.SetDefault("bot.target_profit", 5000.0)
	v.SetDefault("bot.max_duration_hours", 8.0)
	v.SetDefault("bot.cycle_interval", "3s")
	v.SetDefault("bot.sleep_slice", "100ms")
	v.SetDefault("bot.exit_positions_on_stop", true)
	v.SetDefault("bot.status_log_every", 10)

	v.SetDefault("fees.intraday_brokerage_rate", 0.0003)
	v.SetDefault("fees.brokerage_cap", 20.0)
	v.SetDefault("fees.delivery_brokerage_rate", 0.0)
	v.SetDefault("fees.stt_rate", 0.00025)
	v.SetDefault("fees.transaction_charge_rate", 0.0000345)
	v.SetDefault("fees.gst_rate", 0.18)
	v.SetDefault("fees.sebi_rate", 0.000001)
	v.SetDefault("fees.stamp_duty_rate", 0.00003)
	v.SetDefault("fees.exit_discount", 0.005)

	v.SetDefault("broker.timeout", "10s")
	v.SetDefault("broker.max_retries", 3)
	v.SetDefault("broker.breaker_failures", 5)
	v.SetDefault("broker.breaker_timeout", "30s")
	v.SetDefault("broker.quote_batch_size", 200)
	v.SetDefault("broker.rate_limit", 3.0)

	v.SetDefault("store.path", filepath.Join(configDir, "tradebot.db"))
	v.SetDefault("stream.listen_addr", "")
	v.SetDefault("stream.buffer_size", 1000)
	v.SetDefault("market.holidays", []string{})
	v.SetDefault("universe.path", "")

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "tradebot.log"))
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
	v.SetDefault("logging.json", false)

	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "tradebot")
}

// envBindings maps config keys to the environment variables that override
// them.
var envBindings = map[string]string{
	"trading.mode":        "TRADEBOT_MODE",
	"broker.api_key":      "KITE_API_KEY",
	"broker.api_secret":   "KITE_API_SECRET",
	"broker.access_token": "KITE_ACCESS_TOKEN",
	"store.path":          "TRADEBOT_DB_PATH",
	"logging.level":       "TRADEBOT_LOG_LEVEL",
}

// Load loads config.toml from configDir, writing a template on first run.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}
	if err := mergeCredentials(v, configDir); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Dir = configDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// mergeCredentials layers credentials.toml over the main config, writing an
// empty template with restricted permissions if it is missing.
func mergeCredentials(v *viper.Viper, configDir string) error {
	path := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createTemplateCredentials(configDir)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("reading credentials.toml: %w", err)
	}
	return nil
}

func invalid(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s %s", apperrors.ErrConfigInvalid, field, fmt.Sprintf(format, args...))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	mode := models.TradingMode(c.Trading.Mode)
	if !mode.Valid() {
		return invalid("trading.mode", "must be 'live' or 'paper', got %q", c.Trading.Mode)
	}
	if c.Trading.UserID == "" {
		return invalid("trading.user_id", "must not be empty")
	}
	if c.Trading.InitialCapital <= 0 {
		return invalid("trading.initial_capital", "must be positive")
	}
	if !models.ProductType(c.Trading.Product).Valid() {
		return invalid("trading.product", "must be MIS or CNC, got %q", c.Trading.Product)
	}

	if c.Risk.MaxCapitalUsage <= 0 || c.Risk.MaxCapitalUsage > 1 {
		return invalid("risk.max_capital_usage", "must be in (0, 1]")
	}
	if c.Risk.MaxPositions < 1 {
		return invalid("risk.max_positions", "must be at least 1")
	}
	if c.Risk.MaxSignalsPerCycle < 1 {
		return invalid("risk.max_signals_per_cycle", "must be at least 1")
	}
	if c.Risk.MaxOrderCashFraction <= 0 || c.Risk.MaxOrderCashFraction > 1 {
		return invalid("risk.max_order_cash_fraction", "must be in (0, 1]")
	}

	if c.Bot.TargetProfit < 0 {
		return invalid("bot.target_profit", "must not be negative")
	}
	if c.Bot.MaxDurationHours <= 0 {
		return invalid("bot.max_duration_hours", "must be positive")
	}
	if c.Bot.CycleInterval <= 0 || c.Bot.SleepSlice <= 0 {
		return invalid("bot.cycle_interval", "and sleep_slice must be positive")
	}

	if err := c.FeeSchedule().Validate(); err != nil {
		return fmt.Errorf("%w: fees: %s", apperrors.ErrConfigInvalid, apperrors.Reason(err))
	}
	if c.Fees.ExitDiscount < 0 || c.Fees.ExitDiscount >= 1 {
		return invalid("fees.exit_discount", "must be in [0, 1)")
	}

	if c.Broker.RateLimit < 0 {
		return invalid("broker.rate_limit", "must not be negative")
	}

	if mode == models.ModeLive && c.Broker.APIKey == "" {
		return invalid("broker.api_key", "is required in live mode")
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == string(models.ModePaper)
}

// FeeSchedule converts the fee table.
func (c *Config) FeeSchedule() ledger.FeeSchedule {
	return ledger.FeeSchedule{
		IntradayBrokerageRate: decimal.NewFromFloat(c.Fees.IntradayBrokerageRate),
		BrokerageCap:          decimal.NewFromFloat(c.Fees.BrokerageCap),
		DeliveryBrokerageRate: decimal.NewFromFloat(c.Fees.DeliveryBrokerageRate),
		STTRate:               decimal.NewFromFloat(c.Fees.STTRate),
		TransactionChargeRate: decimal.NewFromFloat(c.Fees.TransactionChargeRate),
		GSTRate:               decimal.NewFromFloat(c.Fees.GSTRate),
		SEBIRate:              decimal.NewFromFloat(c.Fees.SEBIRate),
		StampDutyRate:         decimal.NewFromFloat(c.Fees.StampDutyRate),
	}
}

// LedgerConfig returns the ledger configuration.
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		DefaultCapital: decimal.NewFromFloat(c.Trading.InitialCapital),
		Fees:           c.FeeSchedule(),
		ExitDiscount:   decimal.NewFromFloat(c.Fees.ExitDiscount),
	}
}

// RiskGateConfig returns the affordability gate configuration.
func (c *Config) RiskGateConfig() risk.Config {
	return risk.Config{
		MaxCapitalUsage: decimal.NewFromFloat(c.Risk.MaxCapitalUsage),
		MaxPositions:    c.Risk.MaxPositions,
	}
}

// MaxDuration returns the default session duration.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Bot.MaxDurationHours * float64(time.Hour))
}

// ControllerConfig returns session defaults and loop timing.
func (c *Config) ControllerConfig() bot.Config {
	cfg := bot.DefaultConfig()
	cfg.DefaultCapital = decimal.NewFromFloat(c.Trading.InitialCapital)
	cfg.DefaultDuration = c.MaxDuration()
	cfg.DefaultProduct = models.ProductType(c.Trading.Product)
	cfg.CycleInterval = c.Bot.CycleInterval
	cfg.SleepSlice = c.Bot.SleepSlice
	cfg.StatusLogEvery = c.Bot.StatusLogEvery
	cfg.ExitPositionsOnStop = c.Bot.ExitPositionsOnStop
	cfg.MaxSignalsPerCycle = c.Risk.MaxSignalsPerCycle
	cfg.MaxOrderCashFraction = decimal.NewFromFloat(c.Risk.MaxOrderCashFraction)
	return cfg
}
