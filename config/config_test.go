package config

import (
	"testing"
	"time"

	"copyRiskBot/internal/adapters/logger"
	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setValidEnv provides the minimum a successful load needs and clears
// anything the host environment might leak in.
func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BINANCE_API_KEY", "test-key")
	t.Setenv("BINANCE_API_SECRET", "test-secret")
	t.Setenv("SYMBOL_ALLOWLIST", "")
	t.Setenv("SESSION_WINDOWS", "")
	t.Setenv("QUIET_WINDOWS", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, 4, cfg.Leverage)
	assert.Equal(t, domain.ModeSameSide, cfg.CopyMode)
	assert.Nil(t, cfg.SymbolAllowlist)
	assert.Equal(t, "127.0.0.1:5555", cfg.BridgeAddr)

	assert.Equal(t, 10000.0, cfg.ReferenceBalance)
	assert.Equal(t, 500.0, cfg.DailyLossLimit)
	assert.Equal(t, 0.0, cfg.DailyLossPercent)
	assert.Equal(t, 9000.0, cfg.OverallEquityFloor)

	assert.Equal(t, 0.008, cfg.BaseRiskFraction)
	assert.Equal(t, 0.20, cfg.PerTradeDailyFraction)
	assert.Equal(t, 0.20, cfg.PerTradeOverallFraction)
	assert.Equal(t, 0.50, cfg.OpenRiskFraction)
	assert.Equal(t, 0.25, cfg.MarginKeepFraction)

	assert.Equal(t, 0.01, cfg.MinLot)
	assert.Equal(t, 5.0, cfg.MaxLot)
	assert.Equal(t, 0.01, cfg.LotStep)

	assert.Equal(t, 2.0, cfg.SyntheticStopATRMult)
	assert.Equal(t, 150.0, cfg.MinSyntheticStopPoints)
	assert.Equal(t, 5.0, cfg.StopCushionPoints)
	assert.Equal(t, 14, cfg.ATRPeriod)
	assert.Equal(t, "M5", cfg.ATRTimeframe)

	require.NotNil(t, cfg.Location)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Empty(t, cfg.SessionWindows)
	assert.Empty(t, cfg.QuietWindows)
	assert.Equal(t, 0.5, cfg.QuietRiskMult)
	assert.Equal(t, 1.0, cfg.RiskRegimeMult)

	assert.Equal(t, 1.0, cfg.BreakevenTriggerRR)
	assert.Equal(t, 0.0, cfg.BreakevenExtraPoints)
	assert.Equal(t, 0.5, cfg.PartialCloseFraction)
	assert.Equal(t, 1.5, cfg.TrailATRMult)
	assert.True(t, cfg.TrailFromOpen)
	assert.Equal(t, 5*time.Second, cfg.ManageInterval)

	assert.Equal(t, "127.0.0.1:8750", cfg.MonitorAddr)
	assert.Equal(t, "./data/copy_risk.db", cfg.DBPath)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	setValidEnv(t)
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET")
}

func TestLoadConfigOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("IS_TESTNET", "false")
	t.Setenv("LEVERAGE", "10")
	t.Setenv("COPY_MODE", "opposite_side")
	t.Setenv("SYMBOL_ALLOWLIST", "xauusd, btcusdt")
	t.Setenv("DAILY_LOSS_PCT", "0.04")
	t.Setenv("SESSION_WINDOWS", "08:00-17:00")
	t.Setenv("QUIET_WINDOWS", "22:00-23:30,02:00-03:00")
	t.Setenv("PARTIAL_CLOSE_FRACTION", "0.25")
	t.Setenv("TRAIL_FROM_OPEN", "false")
	t.Setenv("MANAGE_INTERVAL_SECONDS", "2")
	t.Setenv("TIME_ZONE", "UTC")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.False(t, cfg.IsTestnet)
	assert.Equal(t, 10, cfg.Leverage)
	assert.Equal(t, domain.ModeOppositeSide, cfg.CopyMode)
	assert.Equal(t, []string{"XAUUSD", "BTCUSDT"}, cfg.SymbolAllowlist)
	assert.Equal(t, 0.04, cfg.DailyLossPercent)
	require.Len(t, cfg.SessionWindows, 1)
	require.Len(t, cfg.QuietWindows, 2)
	assert.Equal(t, 0.25, cfg.PartialCloseFraction)
	assert.False(t, cfg.TrailFromOpen)
	assert.Equal(t, 2*time.Second, cfg.ManageInterval)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "partial fraction above half", key: "PARTIAL_CLOSE_FRACTION", value: "0.75"},
		{name: "negative leverage", key: "LEVERAGE", value: "-2"},
		{name: "daily pct above one", key: "DAILY_LOSS_PCT", value: "1.5"},
		{name: "unknown copy mode", key: "COPY_MODE", value: "SIDEWAYS"},
		{name: "unknown timezone", key: "TIME_ZONE", value: "Nowhere/City"},
		{name: "malformed session windows", key: "SESSION_WINDOWS", value: "morning-ish"},
		{name: "base risk above one", key: "BASE_RISK_PCT", value: "1.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}
