package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"copyRiskBot/internal/domain"
)

func makeBars(ohlc [][4]float64) []*domain.Bar {
	bars := make([]*domain.Bar, 0, len(ohlc))
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, v := range ohlc {
		bars = append(bars, &domain.Bar{
			Time:  start.Add(time.Duration(i) * 5 * time.Minute),
			Open:  v[0],
			High:  v[1],
			Low:   v[2],
			Close: v[3],
		})
	}
	return bars
}

func TestATRValue(t *testing.T) {
	bars := makeBars([][4]float64{
		{100, 110, 90, 105},
		{105, 112, 100, 110}, // TR = 12 (high - low)
		{110, 120, 112, 118}, // TR = 10 (high - prev close)
		{118, 115, 105, 108}, // TR = 13 (prev close - low)
	})

	tests := []struct {
		name     string
		lookback int
		bars     []*domain.Bar
		want     float64
	}{
		{
			name:     "mean over full window",
			lookback: 3,
			bars:     bars,
			want:     35.0 / 3.0,
		},
		{
			name:     "shorter window uses newest bars",
			lookback: 2,
			bars:     bars,
			want:     11.5,
		},
		{
			name:     "not enough bars returns zero",
			lookback: 4,
			bars:     bars,
			want:     0,
		},
		{
			name:     "empty input returns zero",
			lookback: 3,
			bars:     nil,
			want:     0,
		},
		{
			name:     "invalid lookback returns zero",
			lookback: 0,
			bars:     bars,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atr := NewATR(ATRConfig{Lookback: tt.lookback})
			assert.InDelta(t, tt.want, atr.Value(tt.bars), 1e-9)
		})
	}
}

func TestATRGapBar(t *testing.T) {
	// A gap down makes the distance to the previous close the true range.
	bars := makeBars([][4]float64{
		{100, 101, 99, 100},
		{94, 95, 90, 92}, // TR = |90 - 100| = 10
	})
	atr := NewATR(ATRConfig{Lookback: 1})
	assert.InDelta(t, 10.0, atr.Value(bars), 1e-9)
}

func TestATRPoints(t *testing.T) {
	bars := makeBars([][4]float64{
		{100, 101, 99, 100},
		{100, 102, 98, 101}, // TR = 4
	})
	atr := NewATR(ATRConfig{Lookback: 1})

	assert.InDelta(t, 40.0, atr.Points(bars, 0.1), 1e-9)
	assert.Zero(t, atr.Points(bars, 0), "zero point size is unavailable")
}
