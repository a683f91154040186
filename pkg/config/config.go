package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration values
type Config struct {
	// Data locations
	TickDir         string
	BarDir          string
	ResultsDir      string
	CalibrationPath string
	NewsPath        string

	// Instruments
	Pairs     []string
	Allowlist []string

	// Account Configuration
	InitialEquity float64

	// Sizing
	BaseRiskPct float64 // 1%
	MinRiskPct  float64 // below this the trade is skipped
	MaxRiskPct  float64 // hard cap 3%
	MinLot      float64
	MaxLot      float64
	MinStopPips float64 // stop distance floor, tight stops are rejected

	// Portfolio limits
	MaxConcurrent          int
	MaxConcurrentUpgraded  int
	EquityUpgradeThreshold float64
	MaxDailyTrades         int
	DailyLossCapR          float64
	GoldUnlockEquity       float64
	MaxCurrencyExposure    int

	// Costs
	CommissionPerLot float64 // round trip, account currency
	SlippagePips     float64

	// Exits
	PartialExitR           float64
	DeteriorationThreshold float64
	WeekendCloseMinutes    int

	// Cooldowns
	CooldownWindow          int
	CooldownLosses          int
	CooldownHours           int
	PriceLevelCooldownPips  float64
	PriceLevelCooldownHours int

	// News
	PostEventMinScore float64

	// Regime
	AntiFlipMargin      float64
	AntiFlipPersistence int

	// RangeHardSession refuses range fades during the London/NY overlap
	RangeHardSession bool

	// Outputs
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseTable    string
	MetricsAddr        string
	BridgeURL          string

	// Logging
	LogLevel string
	LogDev   bool
}

// Defaults returns the configuration used when no environment is present
func Defaults() *Config {
	return &Config{
		TickDir:                 "data/ticks",
		BarDir:                  "data/range_bars",
		ResultsDir:              "data/backtest_results",
		CalibrationPath:         "data/dcrd_config.yaml",
		NewsPath:                "data/news_events.json",
		Pairs:                   []string{"EURUSD", "GBPUSD", "USDJPY", "AUDJPY", "USDCHF"},
		InitialEquity:           500,
		BaseRiskPct:             0.01,
		MinRiskPct:              0.008,
		MaxRiskPct:              0.03,
		MinLot:                  0.01,
		MaxLot:                  5.0,
		MinStopPips:             10,
		MaxConcurrent:           2,
		MaxConcurrentUpgraded:   3,
		EquityUpgradeThreshold:  1000,
		MaxDailyTrades:          5,
		DailyLossCapR:           2.0,
		GoldUnlockEquity:        2000,
		MaxCurrencyExposure:     2,
		CommissionPerLot:        7.0,
		SlippagePips:            1.0,
		PartialExitR:            1.5,
		DeteriorationThreshold:  40,
		WeekendCloseMinutes:     20,
		CooldownWindow:          10,
		CooldownLosses:          5,
		CooldownHours:           24,
		PriceLevelCooldownPips:  20,
		PriceLevelCooldownHours: 4,
		PostEventMinScore:       80,
		AntiFlipMargin:          15,
		AntiFlipPersistence:     2,
		ClickHouseDatabase:      "rangefx",
		ClickHouseTable:         "trade_records",
		LogLevel:                "info",
	}
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := Defaults()

	cfg.TickDir = getEnv("TICK_DIR", cfg.TickDir)
	cfg.BarDir = getEnv("BAR_DIR", cfg.BarDir)
	cfg.ResultsDir = getEnv("RESULTS_DIR", cfg.ResultsDir)
	cfg.CalibrationPath = getEnv("CALIBRATION_PATH", cfg.CalibrationPath)
	cfg.NewsPath = getEnv("NEWS_PATH", cfg.NewsPath)

	if pairs := getEnv("PAIRS", ""); pairs != "" {
		cfg.Pairs = ParseCommaList(strings.ToUpper(pairs))
	}
	if allow := getEnv("ALLOWLIST", ""); allow != "" {
		cfg.Allowlist = ParseCommaList(strings.ToUpper(allow))
	}

	var err error
	if cfg.InitialEquity, err = getFloat("INITIAL_EQUITY", cfg.InitialEquity); err != nil {
		return nil, err
	}
	if cfg.InitialEquity <= 0 {
		return nil, fmt.Errorf("INITIAL_EQUITY must be > 0")
	}

	if cfg.BaseRiskPct, err = getFloat("BASE_RISK_PCT", cfg.BaseRiskPct); err != nil {
		return nil, err
	}
	if cfg.MinRiskPct, err = getFloat("MIN_RISK_PCT", cfg.MinRiskPct); err != nil {
		return nil, err
	}
	if cfg.MaxRiskPct, err = getFloat("MAX_RISK_PCT", cfg.MaxRiskPct); err != nil {
		return nil, err
	}
	// Cap per-trade risk at 3% of equity
	if cfg.MaxRiskPct > 0.03 {
		cfg.MaxRiskPct = 0.03
	}
	if cfg.MinStopPips, err = getFloat("MIN_STOP_PIPS", cfg.MinStopPips); err != nil {
		return nil, err
	}
	if cfg.MinLot, err = getFloat("MIN_LOT", cfg.MinLot); err != nil {
		return nil, err
	}
	if cfg.MaxLot, err = getFloat("MAX_LOT", cfg.MaxLot); err != nil {
		return nil, err
	}

	if cfg.MaxConcurrent, err = getInt("MAX_CONCURRENT_POSITIONS", cfg.MaxConcurrent); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentUpgraded, err = getInt("MAX_CONCURRENT_UPGRADED", cfg.MaxConcurrentUpgraded); err != nil {
		return nil, err
	}
	if cfg.EquityUpgradeThreshold, err = getFloat("EQUITY_UPGRADE_THRESHOLD", cfg.EquityUpgradeThreshold); err != nil {
		return nil, err
	}
	if cfg.MaxDailyTrades, err = getInt("MAX_DAILY_TRADES", cfg.MaxDailyTrades); err != nil {
		return nil, err
	}
	if cfg.GoldUnlockEquity, err = getFloat("GOLD_UNLOCK_EQUITY", cfg.GoldUnlockEquity); err != nil {
		return nil, err
	}
	if cfg.MaxCurrencyExposure, err = getInt("MAX_CURRENCY_EXPOSURE", cfg.MaxCurrencyExposure); err != nil {
		return nil, err
	}
	if cfg.DailyLossCapR, err = getFloat("DAILY_LOSS_CAP_R", cfg.DailyLossCapR); err != nil {
		return nil, err
	}
	if cfg.CommissionPerLot, err = getFloat("COMMISSION_PER_LOT_RT", cfg.CommissionPerLot); err != nil {
		return nil, err
	}
	if cfg.SlippagePips, err = getFloat("SLIPPAGE_PIPS", cfg.SlippagePips); err != nil {
		return nil, err
	}
	if cfg.PartialExitR, err = getFloat("PARTIAL_EXIT_R", cfg.PartialExitR); err != nil {
		return nil, err
	}
	if cfg.DeteriorationThreshold, err = getFloat("DETERIORATION_THRESHOLD", cfg.DeteriorationThreshold); err != nil {
		return nil, err
	}
	if cfg.WeekendCloseMinutes, err = getInt("WEEKEND_CLOSE_MINUTES", cfg.WeekendCloseMinutes); err != nil {
		return nil, err
	}
	if cfg.CooldownWindow, err = getInt("COOLDOWN_WINDOW", cfg.CooldownWindow); err != nil {
		return nil, err
	}
	if cfg.CooldownLosses, err = getInt("COOLDOWN_LOSSES", cfg.CooldownLosses); err != nil {
		return nil, err
	}
	if cfg.CooldownHours, err = getInt("COOLDOWN_HOURS", cfg.CooldownHours); err != nil {
		return nil, err
	}
	if cfg.PriceLevelCooldownPips, err = getFloat("PRICE_LEVEL_COOLDOWN_PIPS", cfg.PriceLevelCooldownPips); err != nil {
		return nil, err
	}
	if cfg.PriceLevelCooldownHours, err = getInt("PRICE_LEVEL_COOLDOWN_HOURS", cfg.PriceLevelCooldownHours); err != nil {
		return nil, err
	}

	if cfg.PostEventMinScore, err = getFloat("POST_EVENT_MIN_SCORE", cfg.PostEventMinScore); err != nil {
		return nil, err
	}
	if cfg.AntiFlipMargin, err = getFloat("ANTI_FLIP_MARGIN", cfg.AntiFlipMargin); err != nil {
		return nil, err
	}
	if cfg.AntiFlipPersistence, err = getInt("ANTI_FLIP_PERSISTENCE", cfg.AntiFlipPersistence); err != nil {
		return nil, err
	}

	cfg.ClickHouseAddr = getEnv("RECORDS_CLICKHOUSE_ADDR", "")
	cfg.ClickHouseDatabase = getEnv("RECORDS_CLICKHOUSE_DB", cfg.ClickHouseDatabase)
	cfg.ClickHouseTable = getEnv("RECORDS_CLICKHOUSE_TABLE", cfg.ClickHouseTable)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")
	cfg.BridgeURL = getEnv("BRIDGE_URL", "")

	hard := getEnv("RANGE_HARD_SESSION", "false")
	cfg.RangeHardSession = hard == "true" || hard == "1"

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	logDev := getEnv("LOG_DEV", "false")
	cfg.LogDev = logDev == "true" || logDev == "1"

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("PAIRS must name at least one instrument")
	}
	for _, pair := range c.Pairs {
		if _, err := Lookup(pair); err != nil {
			return err
		}
	}
	if c.InitialEquity <= 0 {
		return fmt.Errorf("INITIAL_EQUITY must be > 0")
	}
	if c.MinRiskPct <= 0 || c.MinRiskPct > c.BaseRiskPct || c.BaseRiskPct > c.MaxRiskPct {
		return fmt.Errorf("risk fractions must satisfy 0 < min (%.4f) <= base (%.4f) <= max (%.4f)",
			c.MinRiskPct, c.BaseRiskPct, c.MaxRiskPct)
	}
	if c.MinLot <= 0 || c.MaxLot < c.MinLot {
		return fmt.Errorf("lot bounds must satisfy 0 < min <= max")
	}
	if c.MaxConcurrent < 1 || c.MaxConcurrentUpgraded < c.MaxConcurrent {
		return fmt.Errorf("MAX_CONCURRENT_POSITIONS must be >= 1 and <= upgraded limit")
	}
	if c.DailyLossCapR <= 0 {
		return fmt.Errorf("DAILY_LOSS_CAP_R must be > 0")
	}
	if c.MinStopPips < 0 {
		return fmt.Errorf("MIN_STOP_PIPS must be >= 0")
	}
	return nil
}

// IsAllowed reports whether an instrument passes the allowlist.
// An empty allowlist admits every configured pair.
func (c *Config) IsAllowed(instrument string) bool {
	list := c.Allowlist
	if len(list) == 0 {
		list = c.Pairs
	}
	for _, allowed := range list {
		if strings.EqualFold(allowed, instrument) {
			return true
		}
	}
	return false
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getFloat(key string, defaultValue float64) (float64, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return v, nil
}

func getInt(key string, defaultValue int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return v, nil
}

// ParseCommaList parses a comma-separated list and trims whitespace
func ParseCommaList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
