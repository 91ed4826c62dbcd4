package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"conservative_bot/internal/models"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"

	defaultConfigFile = "values_local.yaml"
	defaultConfigDir  = "configs"
)

// Market data source kinds.
const (
	SourceSynthetic = "synthetic"
	SourcePostgres  = "postgres"
)

// Config ...
type Config struct {
	LogLevel string `yaml:"log_level"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
	} `yaml:"service"`
	Tracing struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"tracing"`

	Risk models.RiskLimits `yaml:"risk"`

	MarketData struct {
		Source string `yaml:"source"` // synthetic | postgres
		Seed   int64  `yaml:"seed"`
	} `yaml:"market_data"`

	Strategy struct {
		Symbols           []string      `yaml:"symbols"`
		Interval          string        `yaml:"interval"`
		BarCount          int           `yaml:"bar_count"`
		MinConfidence     float64       `yaml:"min_confidence"`
		MinBars           int           `yaml:"min_bars"`
		MaxSignalsPerScan int           `yaml:"max_signals_per_scan"`
		ScanEvery         time.Duration `yaml:"scan_every"`
	} `yaml:"strategy"`

	Backtest struct {
		InitialBalance float64 `yaml:"initial_balance"`
		StopLossPct    float64 `yaml:"stop_loss_pct"`
		TakeProfitPct  float64 `yaml:"take_profit_pct"`
		PositionPct    float64 `yaml:"position_pct"`
		Leverage       int     `yaml:"leverage"`
		MaxPositions   int     `yaml:"max_positions"`
		MinConfidence  float64 `yaml:"min_confidence"`
		Interval       string  `yaml:"interval"`
		Rule           string  `yaml:"rule"` // mean_reversion | conservative
	} `yaml:"backtest"`

	Emergency struct {
		MaxConsecutiveLosses   int           `yaml:"max_consecutive_losses"`
		CriticalBalancePercent float64       `yaml:"critical_balance_percent"`
		CheckEvery             time.Duration `yaml:"check_every"`
	} `yaml:"emergency"`

	Portfolio struct {
		InitialBalance float64 `yaml:"initial_balance"`
	} `yaml:"portfolio"`

	Runner struct {
		ConfirmEntries bool          `yaml:"confirm_entries"`
		ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	} `yaml:"runner"`
}

// Default returns the conservative configuration used when no file overrides it.
func Default() Config {
	var c Config
	c.LogLevel = "info"
	c.Service.PublicPort = 8080
	c.Risk = models.DefaultRiskLimits()

	c.MarketData.Source = SourceSynthetic
	c.MarketData.Seed = 42

	c.Strategy.Symbols = []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "UNI/USDT", "AAVE/USDT"}
	c.Strategy.Interval = "1h"
	c.Strategy.BarCount = 100
	c.Strategy.MinConfidence = 75
	c.Strategy.MinBars = 50
	c.Strategy.MaxSignalsPerScan = 2
	c.Strategy.ScanEvery = 15 * time.Minute

	c.Backtest.InitialBalance = 1000
	c.Backtest.StopLossPct = 1.5
	c.Backtest.TakeProfitPct = 3.0
	c.Backtest.PositionPct = 2.0
	c.Backtest.Leverage = 2
	c.Backtest.MaxPositions = 3
	c.Backtest.MinConfidence = 75
	c.Backtest.Interval = "1h"
	c.Backtest.Rule = "mean_reversion"

	c.Emergency.MaxConsecutiveLosses = 5
	c.Emergency.CriticalBalancePercent = 50
	c.Emergency.CheckEvery = 30 * time.Second

	c.Portfolio.InitialBalance = 1000

	c.Runner.ConfirmTimeout = 2 * time.Minute
	return c
}

// NewConfig loads .env, then the YAML file named by CONFIG_FILE over the
// defaults, then env overrides. A missing file leaves the defaults.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	path := configPath()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrapf(err, "decode config file %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "open config file %s", path)
	}

	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func configPath() string {
	name := getenvDefault(configFilePathENV, defaultConfigFile)
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(getenvDefault(configDirENV, defaultConfigDir), name)
}

func applyEnv(c *Config) {
	c.LogLevel = getenvDefault("LOG_LEVEL", c.LogLevel)

	if token := os.Getenv(tokenTelegramENV); token != "" {
		c.Telegram.Token = token
	}
	if v := os.Getenv(chatTelegramENV); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		c.DB = dsn
	}
	c.Service.PublicPort = intFromEnv("PUBLIC_PORT", c.Service.PublicPort)
	c.Tracing.Host = getenvDefault("JAEGER_AGENT_HOST", c.Tracing.Host)
	c.Tracing.Port = intFromEnv("JAEGER_AGENT_PORT", c.Tracing.Port)

	c.Risk.MaxRiskPercentPerTrade = floatFromEnv("MAX_RISK_PCT", c.Risk.MaxRiskPercentPerTrade)
	c.Risk.MaxLeverage = floatFromEnv("MAX_LEVERAGE", c.Risk.MaxLeverage)
	c.Risk.MaxDailyLossPercent = floatFromEnv("MAX_DAILY_LOSS_PCT", c.Risk.MaxDailyLossPercent)
	c.Risk.MaxDrawdownPercent = floatFromEnv("MAX_DRAWDOWN_PCT", c.Risk.MaxDrawdownPercent)
	c.Risk.MaxSimultaneousPositions = intFromEnv("MAX_OPEN_POSITIONS", c.Risk.MaxSimultaneousPositions)
	c.Risk.MaxDailyTrades = intFromEnv("MAX_DAILY_TRADES", c.Risk.MaxDailyTrades)

	c.MarketData.Source = getenvDefault("MARKET_DATA_SOURCE", c.MarketData.Source)
	c.MarketData.Seed = int64(intFromEnv("MARKET_DATA_SEED", int(c.MarketData.Seed)))

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Strategy.Symbols = splitList(v)
	}
	c.Strategy.Interval = getenvDefault("TIMEFRAME", c.Strategy.Interval)
	c.Strategy.MinConfidence = floatFromEnv("MIN_CONFIDENCE", c.Strategy.MinConfidence)
	c.Strategy.ScanEvery = durationFromEnv("SCAN_EVERY", c.Strategy.ScanEvery.String())

	c.Emergency.CheckEvery = durationFromEnv("EMERGENCY_CHECK_EVERY", c.Emergency.CheckEvery.String())
	c.Portfolio.InitialBalance = floatFromEnv("PAPER_BALANCE", c.Portfolio.InitialBalance)

	c.Runner.ConfirmEntries = boolFromEnv("CONFIRM_ENTRIES", c.Runner.ConfirmEntries)
	c.Runner.ConfirmTimeout = durationFromEnv("CONFIRM_TIMEOUT", c.Runner.ConfirmTimeout.String())
}

func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return errors.Wrap(err, "risk")
	}
	switch c.MarketData.Source {
	case SourceSynthetic, SourcePostgres:
	default:
		return errors.Errorf("market_data.source %q: want %s or %s", c.MarketData.Source, SourceSynthetic, SourcePostgres)
	}
	if c.MarketData.Source == SourcePostgres && c.DB == "" {
		return errors.New("market_data.source postgres needs db_dsn or DATABASE_DSN")
	}
	if c.Strategy.ScanEvery <= 0 || c.Emergency.CheckEvery <= 0 {
		return errors.New("scan_every and check_every must be positive")
	}
	if c.Portfolio.InitialBalance <= 0 || c.Backtest.InitialBalance <= 0 {
		return errors.New("initial balances must be positive")
	}
	return nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
