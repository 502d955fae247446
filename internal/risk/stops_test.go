package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"
)

func testFacts() *domain.InstrumentFacts {
	return &domain.InstrumentFacts{
		Symbol:            "ETHUSDT",
		PointSize:         0.1,
		Digits:            2,
		QtyStep:           0.01,
		MinQty:            0.01,
		MaxQty:            5,
		StopLevelPoints:   30,
		FreezeLevelPoints: 10,
		ValuePerPoint:     1,
		MarginPerUnit:     200,
	}
}

func testQuote() *domain.Quote {
	return &domain.Quote{
		Symbol: "ETHUSDT",
		Bid:    2004.5,
		Ask:    2005.0,
		At:     time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC),
	}
}

func proposal(dir domain.Direction, entry, stop, target float64) *domain.TradeProposal {
	return &domain.TradeProposal{
		RefID:     42,
		Symbol:    "ETHUSDT",
		Direction: dir,
		Entry:     entry,
		Stop:      stop,
		Target:    target,
	}
}

func TestStopBuilderBuild(t *testing.T) {
	// Cushion 5 on top of stop level 30 and freeze 10 gives a 45 point
	// minimum gap, 4.5 in price.
	tests := []struct {
		name       string
		config     StopBuilderConfig
		proposal   *domain.TradeProposal
		atrPoints  float64
		wantDir    domain.Direction
		wantAnchor float64
		wantStop   float64
		wantTarget float64
		wantPoints float64
		wantErr    error
	}{
		{
			name:       "same side carries master distances",
			config:     StopBuilderConfig{Mode: domain.ModeSameSide, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:   proposal(domain.Long, 2000, 1990, 2020),
			wantDir:    domain.Long,
			wantAnchor: 2005.0,
			wantStop:   1995.0,
			wantTarget: 2025.0,
			wantPoints: 100,
		},
		{
			name:       "tight master stop is pushed to the validity gap",
			config:     StopBuilderConfig{Mode: domain.ModeSameSide, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:   proposal(domain.Long, 2000, 1999.5, 0),
			wantDir:    domain.Long,
			wantAnchor: 2005.0,
			wantStop:   2000.0, // Bid - 4.5
			wantPoints: 50,
		},
		{
			name:       "naked master gets a volatility stop",
			config:     StopBuilderConfig{Mode: domain.ModeSameSide, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:   proposal(domain.Long, 2000, 0, 0),
			atrPoints:  40,
			wantDir:    domain.Long,
			wantAnchor: 2005.0,
			wantStop:   1999.0, // 1.5 * 40 = 60 points
			wantPoints: 60,
		},
		{
			name:       "synthetic distance respects the configured floor",
			config:     StopBuilderConfig{Mode: domain.ModeSameSide, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:   proposal(domain.Long, 2000, 0, 0),
			atrPoints:  10, // 1.5 * 10 = 15 points, below the 50 floor
			wantDir:    domain.Long,
			wantAnchor: 2005.0,
			wantStop:   2000.0,
			wantPoints: 50,
		},
		{
			name:      "naked master with unknown volatility cannot be sized",
			config:    StopBuilderConfig{Mode: domain.ModeSameSide, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:  proposal(domain.Long, 2000, 0, 2020),
			atrPoints: 0,
			wantErr:   ports.ErrDataUnavailable,
		},
		{
			name:       "opposite side inverts direction and mirrors distances",
			config:     StopBuilderConfig{Mode: domain.ModeOppositeSide, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:   proposal(domain.Long, 2000, 1990, 2020),
			wantDir:    domain.Short,
			wantAnchor: 2004.5,
			wantStop:   2014.5,
			wantTarget: 1984.5,
			wantPoints: 100,
		},
		{
			name:       "level swap uses the master levels verbatim",
			config:     StopBuilderConfig{Mode: domain.ModeLevelSwap, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:   proposal(domain.Long, 2000, 1990, 2020),
			wantDir:    domain.Short,
			wantAnchor: 2004.5,
			wantStop:   2020.0,
			wantTarget: 1990.0,
			wantPoints: 155,
		},
		{
			name:       "level swap without a master target falls back to distances",
			config:     StopBuilderConfig{Mode: domain.ModeLevelSwap, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:   proposal(domain.Long, 2000, 1990, 0),
			wantDir:    domain.Short,
			wantAnchor: 2004.5,
			wantStop:   2014.5,
			wantPoints: 100,
		},
		{
			name:       "close target is pushed outward",
			config:     StopBuilderConfig{Mode: domain.ModeSameSide, VolatilityMultiplier: 1.5, MinSyntheticStopPoints: 50, CushionPoints: 5},
			proposal:   proposal(domain.Long, 2000, 1990, 2002),
			wantDir:    domain.Long,
			wantAnchor: 2005.0,
			wantStop:   1995.0,
			wantTarget: 2009.5, // Ask + 4.5
			wantPoints: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := NewStopTargetBuilder(tt.config)
			plan, err := builder.Build(tt.proposal, testFacts(), testQuote(), tt.atrPoints)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDir, plan.Direction)
			assert.InDelta(t, tt.wantAnchor, plan.AnchorPrice, 1e-9)
			assert.InDelta(t, tt.wantStop, plan.StopPrice, 1e-9)
			assert.InDelta(t, tt.wantTarget, plan.TargetPrice, 1e-9)
			assert.InDelta(t, tt.wantPoints, plan.StopPoints, 1e-6)
		})
	}
}

func TestTransformModify(t *testing.T) {
	sameSide := NewStopTargetBuilder(StopBuilderConfig{Mode: domain.ModeSameSide})
	stop, target := sameSide.TransformModify(2000, 1992, 2030, 2005, domain.Long)
	assert.InDelta(t, 1992.0, stop, 1e-9)
	assert.InDelta(t, 2030.0, target, 1e-9)

	opposite := NewStopTargetBuilder(StopBuilderConfig{Mode: domain.ModeOppositeSide})
	stop, target = opposite.TransformModify(2000, 1992, 2030, 2004, domain.Short)
	assert.InDelta(t, 2012.0, stop, 1e-9, "master stop distance mirrored above the short entry")
	assert.InDelta(t, 1974.0, target, 1e-9, "master target distance mirrored below the short entry")

	swap := NewStopTargetBuilder(StopBuilderConfig{Mode: domain.ModeLevelSwap})
	stop, target = swap.TransformModify(2000, 1992, 2030, 2004, domain.Short)
	assert.InDelta(t, 2030.0, stop, 1e-9)
	assert.InDelta(t, 1992.0, target, 1e-9)

	// Unset master levels stay unset through the transform.
	stop, target = opposite.TransformModify(2000, 0, 0, 2004, domain.Short)
	assert.Zero(t, stop)
	assert.Zero(t, target)
}

func TestValidStopClamp(t *testing.T) {
	builder := NewStopTargetBuilder(StopBuilderConfig{Mode: domain.ModeSameSide, CushionPoints: 5})
	facts := testFacts()
	quote := testQuote()

	// A long stop inside the gap is pulled back to Bid - 4.5.
	assert.InDelta(t, 2000.0, builder.ValidStop(domain.Long, 2003, quote, facts), 1e-9)
	// A stop already outside the gap passes through.
	assert.InDelta(t, 1995.0, builder.ValidStop(domain.Long, 1995, quote, facts), 1e-9)
	// Short side mirrors against the Ask.
	assert.InDelta(t, 2009.5, builder.ValidStop(domain.Short, 2006, quote, facts), 1e-9)

	// Targets clamp outward and zero stays zero.
	assert.InDelta(t, 2009.5, builder.ValidTarget(domain.Long, 2006, quote, facts), 1e-9)
	assert.Zero(t, builder.ValidTarget(domain.Long, 0, quote, facts))
}
