package indicators

import (
	"math"

	"copyRiskBot/internal/domain"
)

// ATRConfig holds configuration for the Average True Range estimator.
type ATRConfig struct {
	Lookback int
}

// ATR measures recent volatility as the arithmetic mean of the true
// ranges over a fixed lookback window.
type ATR struct {
	config ATRConfig
}

// NewATR creates a new Average True Range estimator instance.
func NewATR(config ATRConfig) *ATR {
	return &ATR{
		config: config,
	}
}

// Value computes the mean true range of the most recent Lookback bars.
// Bars are expected oldest first. Returns 0 when fewer than Lookback+1
// bars are available; callers treat 0 as "volatility unknown".
func (a *ATR) Value(bars []*domain.Bar) float64 {
	period := a.config.Lookback
	if period < 1 || len(bars) < period+1 {
		return 0
	}

	start := len(bars) - period
	sum := 0.0
	for i := start; i < len(bars); i++ {
		high := bars[i].High
		low := bars[i].Low
		prevClose := bars[i-1].Close

		// True Range is the greatest of:
		// 1. Current High - Current Low
		// 2. |Current High - Previous Close|
		// 3. |Current Low - Previous Close|
		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)

		sum += math.Max(tr1, math.Max(tr2, tr3))
	}

	return sum / float64(period)
}

// Points converts Value into points of the given size. Returns 0 when
// the value is unavailable or pointSize is not positive.
func (a *ATR) Points(bars []*domain.Bar, pointSize float64) float64 {
	if pointSize <= 0 {
		return 0
	}
	return a.Value(bars) / pointSize
}
