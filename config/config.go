package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"copyRiskBot/internal/adapters/logger" // Import the logger package for LogLevel
	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"
	"copyRiskBot/internal/risk"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool
	Leverage  int

	// Copying
	CopyMode        domain.CopyMode
	SymbolAllowlist []string
	BridgeAddr      string

	// Loss budgets
	ReferenceBalance   float64 // Prop account size the risk fractions refer to
	DailyLossLimit     float64 // Absolute daily loss cap in account currency
	DailyLossPercent   float64 // Daily loss cap as fraction of day-start equity (0 disables)
	OverallEquityFloor float64 // Equity level below which no new trades open

	// Per-trade risk
	BaseRiskFraction        float64 // e.g. 0.008 for 0.8% of the reference balance
	PerTradeDailyFraction   float64 // Share of remaining daily budget one trade may risk
	PerTradeOverallFraction float64 // Share of remaining overall budget one trade may risk
	OpenRiskFraction        float64 // Share of the daily cap all open risk may occupy
	MarginKeepFraction      float64 // Share of equity kept free as margin buffer

	// Instrument fallbacks, applied when the venue reports zeros
	MinLot            float64
	MaxLot            float64
	LotStep           float64
	StopLevelPoints   float64
	FreezeLevelPoints float64

	// Stop construction
	SyntheticStopATRMult   float64
	MinSyntheticStopPoints float64
	StopCushionPoints      float64
	ATRPeriod              int
	ATRTimeframe           string

	// Sessions and regime
	Location       *time.Location
	SessionWindows []risk.SessionWindow
	QuietWindows   []risk.SessionWindow
	QuietRiskMult  float64
	RiskRegimeMult float64

	// Lifecycle
	BreakevenTriggerRR   float64
	BreakevenExtraPoints float64
	PartialCloseFraction float64
	TrailATRMult         float64
	TrailFromOpen        bool
	ManageInterval       time.Duration

	// Monitoring
	MonitorAddr string

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs error // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = multierr.Append(errs, errors.New("BINANCE_API_KEY must be set"))
	}
	if cfg.SecretKey == "" {
		errs = multierr.Append(errs, errors.New("BINANCE_API_SECRET must be set"))
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 4)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid LEVERAGE: %w", err))
	} else if cfg.Leverage <= 0 {
		errs = multierr.Append(errs, errors.New("LEVERAGE must be positive"))
	}

	// Copying
	cfg.CopyMode, err = domain.ParseCopyMode(getEnv("COPY_MODE", ""))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid COPY_MODE: %w", err))
	}
	cfg.SymbolAllowlist = splitList(getEnv("SYMBOL_ALLOWLIST", ""))
	cfg.BridgeAddr = getEnv("BRIDGE_LISTEN_ADDR", "127.0.0.1:5555")

	// Loss budgets
	cfg.ReferenceBalance, err = getEnvAsFloatRequired("INITIAL_BALANCE", 10000.0)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid INITIAL_BALANCE: %w", err))
	} else if cfg.ReferenceBalance <= 0 {
		errs = multierr.Append(errs, errors.New("INITIAL_BALANCE must be positive"))
	}

	cfg.DailyLossLimit, err = getEnvAsFloatRequired("DAILY_LOSS_LIMIT", 500.0)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid DAILY_LOSS_LIMIT: %w", err))
	} else if cfg.DailyLossLimit <= 0 {
		errs = multierr.Append(errs, errors.New("DAILY_LOSS_LIMIT must be positive"))
	}

	cfg.DailyLossPercent, err = getEnvAsFloatRequired("DAILY_LOSS_PCT", 0.0)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid DAILY_LOSS_PCT: %w", err))
	} else if cfg.DailyLossPercent < 0 || cfg.DailyLossPercent >= 1.0 {
		errs = multierr.Append(errs, errors.New("DAILY_LOSS_PCT must be in [0.0, 1.0)"))
	}

	cfg.OverallEquityFloor, err = getEnvAsFloatRequired("OVERALL_EQUITY_FLOOR", 9000.0)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid OVERALL_EQUITY_FLOOR: %w", err))
	} else if cfg.OverallEquityFloor < 0 {
		errs = multierr.Append(errs, errors.New("OVERALL_EQUITY_FLOOR cannot be negative"))
	}

	// Per-trade risk
	cfg.BaseRiskFraction, err = getEnvAsFloatRequired("BASE_RISK_PCT", 0.008)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid BASE_RISK_PCT: %w", err))
	} else if cfg.BaseRiskFraction <= 0 || cfg.BaseRiskFraction >= 1.0 {
		errs = multierr.Append(errs, errors.New("BASE_RISK_PCT must be between 0.0 and 1.0 (exclusive)"))
	}

	cfg.PerTradeDailyFraction, err = getEnvAsFloatRequired("PER_TRADE_DAILY_FRACTION", 0.20)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid PER_TRADE_DAILY_FRACTION: %w", err))
	} else if cfg.PerTradeDailyFraction <= 0 || cfg.PerTradeDailyFraction > 1.0 {
		errs = multierr.Append(errs, errors.New("PER_TRADE_DAILY_FRACTION must be in (0.0, 1.0]"))
	}

	cfg.PerTradeOverallFraction, err = getEnvAsFloatRequired("PER_TRADE_OVERALL_FRACTION", 0.20)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid PER_TRADE_OVERALL_FRACTION: %w", err))
	} else if cfg.PerTradeOverallFraction <= 0 || cfg.PerTradeOverallFraction > 1.0 {
		errs = multierr.Append(errs, errors.New("PER_TRADE_OVERALL_FRACTION must be in (0.0, 1.0]"))
	}

	cfg.OpenRiskFraction, err = getEnvAsFloatRequired("OPEN_RISK_FRACTION_OF_DAILY", 0.50)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid OPEN_RISK_FRACTION_OF_DAILY: %w", err))
	} else if cfg.OpenRiskFraction <= 0 || cfg.OpenRiskFraction > 1.0 {
		errs = multierr.Append(errs, errors.New("OPEN_RISK_FRACTION_OF_DAILY must be in (0.0, 1.0]"))
	}

	cfg.MarginKeepFraction, err = getEnvAsFloatRequired("MARGIN_FREE_BUFFER_PCT", 0.25)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid MARGIN_FREE_BUFFER_PCT: %w", err))
	} else if cfg.MarginKeepFraction < 0 || cfg.MarginKeepFraction >= 1.0 {
		errs = multierr.Append(errs, errors.New("MARGIN_FREE_BUFFER_PCT must be in [0.0, 1.0)"))
	}

	// Instrument fallbacks
	cfg.MinLot = getEnvAsFloat("MIN_LOT", 0.01)
	cfg.MaxLot = getEnvAsFloat("MAX_LOT", 5.0)
	cfg.LotStep = getEnvAsFloat("LOT_STEP", 0.01)
	cfg.StopLevelPoints = getEnvAsFloat("STOP_LEVEL_POINTS", 0.0)
	cfg.FreezeLevelPoints = getEnvAsFloat("FREEZE_LEVEL_POINTS", 0.0)
	if cfg.MinLot <= 0 || cfg.LotStep <= 0 || cfg.MaxLot < cfg.MinLot {
		errs = multierr.Append(errs, errors.New("lot fallbacks must satisfy 0 < MIN_LOT <= MAX_LOT and LOT_STEP > 0"))
	}

	// Stop construction
	cfg.SyntheticStopATRMult = getEnvAsFloat("SYN_SL_ATR_MULT", 2.0)
	cfg.MinSyntheticStopPoints = getEnvAsFloat("MIN_SYN_SL_POINTS", 150.0)
	cfg.StopCushionPoints = getEnvAsFloat("STOP_CUSHION_POINTS", 5.0)
	cfg.ATRPeriod = getEnvAsInt("ATR_PERIOD", 14)
	cfg.ATRTimeframe = getEnv("ATR_TIMEFRAME", "M5")
	if cfg.SyntheticStopATRMult <= 0 {
		errs = multierr.Append(errs, errors.New("SYN_SL_ATR_MULT must be positive"))
	}
	if cfg.ATRPeriod <= 0 {
		errs = multierr.Append(errs, errors.New("ATR_PERIOD must be positive"))
	}

	// Sessions and regime
	timeZone := getEnv("TIME_ZONE", "Europe/Berlin")
	cfg.Location, err = time.LoadLocation(timeZone)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid TIME_ZONE '%s': %w", timeZone, err))
	}

	cfg.SessionWindows, err = risk.ParseSessionWindows(getEnv("SESSION_WINDOWS", ""))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid SESSION_WINDOWS: %w", err))
	}
	cfg.QuietWindows, err = risk.ParseSessionWindows(getEnv("QUIET_WINDOWS", ""))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid QUIET_WINDOWS: %w", err))
	}

	cfg.QuietRiskMult, err = getEnvAsFloatRequired("QUIET_RISK_MULT", 0.5)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid QUIET_RISK_MULT: %w", err))
	} else if cfg.QuietRiskMult <= 0 {
		errs = multierr.Append(errs, errors.New("QUIET_RISK_MULT must be positive"))
	}

	cfg.RiskRegimeMult, err = getEnvAsFloatRequired("RISK_REGIME_MULT", 1.0)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid RISK_REGIME_MULT: %w", err))
	} else if cfg.RiskRegimeMult <= 0 {
		errs = multierr.Append(errs, errors.New("RISK_REGIME_MULT must be positive"))
	}

	// Lifecycle
	cfg.BreakevenTriggerRR, err = getEnvAsFloatRequired("BREAKEVEN_TRIGGER_RR", 1.0)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid BREAKEVEN_TRIGGER_RR: %w", err))
	} else if cfg.BreakevenTriggerRR <= 0 {
		errs = multierr.Append(errs, errors.New("BREAKEVEN_TRIGGER_RR must be positive"))
	}

	cfg.BreakevenExtraPoints = getEnvAsFloat("BREAKEVEN_EXTRA_POINTS", 0.0)
	if cfg.BreakevenExtraPoints < 0 {
		errs = multierr.Append(errs, errors.New("BREAKEVEN_EXTRA_POINTS cannot be negative"))
	}

	cfg.PartialCloseFraction, err = getEnvAsFloatRequired("PARTIAL_CLOSE_FRACTION", 0.5)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid PARTIAL_CLOSE_FRACTION: %w", err))
	} else if cfg.PartialCloseFraction <= 0 || cfg.PartialCloseFraction > 0.5 {
		errs = multierr.Append(errs, errors.New("PARTIAL_CLOSE_FRACTION must be in (0.0, 0.5]"))
	}

	cfg.TrailATRMult, err = getEnvAsFloatRequired("TRAIL_ATR_MULT", 1.5)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("invalid TRAIL_ATR_MULT: %w", err))
	} else if cfg.TrailATRMult < 0 {
		errs = multierr.Append(errs, errors.New("TRAIL_ATR_MULT cannot be negative"))
	}

	cfg.TrailFromOpen = getEnvAsBool("TRAIL_FROM_OPEN", true)

	manageIntervalSeconds := getEnvAsInt("MANAGE_INTERVAL_SECONDS", 5)
	if manageIntervalSeconds <= 0 {
		errs = multierr.Append(errs, errors.New("MANAGE_INTERVAL_SECONDS must be positive"))
	}
	cfg.ManageInterval = time.Duration(manageIntervalSeconds) * time.Second

	// Monitoring
	cfg.MonitorAddr = getEnv("MONITOR_LISTEN_ADDR", "127.0.0.1:8750")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/copy_risk.db")
	if cfg.DBPath == "" {
		errs = multierr.Append(errs, errors.New("DB_PATH must be set"))
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if errs != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, errs)
	}

	return cfg, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
