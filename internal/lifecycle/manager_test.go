package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/risk"
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
	}
}

func quoteAt(bid, ask float64) *domain.Quote {
	return &domain.Quote{
		Symbol: "ETHUSDT",
		Bid:    bid,
		Ask:    ask,
		At:     time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC),
	}
}

func longPosition() *domain.ManagedPosition {
	return &domain.ManagedPosition{
		ID:              "ETHUSDT",
		RefID:           42,
		Symbol:          "ETHUSDT",
		Direction:       domain.Long,
		State:           domain.StateOpen,
		EntryPrice:      2000.0,
		Quantity:        0.80,
		InitialQuantity: 0.80,
		StopPrice:       1995.0,
		StopPoints:      50,
		RiskAmount:      40,
		PointSize:       0.1,
		ValuePerPoint:   1,
		Status:          domain.StatusOpen,
	}
}

func newTestManager(cfg Config) *Manager {
	stops := risk.NewStopTargetBuilder(risk.StopBuilderConfig{
		Mode:          domain.ModeSameSide,
		CushionPoints: 5,
	})
	return New(cfg, stops)
}

func defaultConfig() Config {
	return Config{
		BreakevenTriggerRR:   1.0,
		BreakevenExtraPoints: 2,
		PartialCloseFraction: 0.5,
		VolatilityMultiplier: 1.5,
	}
}

func TestPlanBelowTriggerDoesNothing(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()

	plan := mgr.Plan(p, quoteAt(2003.0, 2003.5), 0, testFacts())

	assert.Zero(t, plan.NewStop)
	assert.Zero(t, plan.PartialQuantity)
	assert.False(t, plan.ArmBreakeven)
	assert.Equal(t, domain.StateOpen, plan.NextState)
	assert.InDelta(t, 30.0, plan.BestExcursion, 1e-9, "watermark follows the exit price")
}

func TestPlanArmsBreakeven(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()

	// Exit at 2005 is 50 points, exactly one initial stop distance.
	plan := mgr.Plan(p, quoteAt(2005.0, 2005.5), 0, testFacts())

	assert.True(t, plan.ArmBreakeven)
	assert.Equal(t, domain.StateArmed, plan.NextState)
	// Entry + spread + extra is 2000.7 but the 4.5 gap off the Bid caps it.
	assert.InDelta(t, 2000.5, plan.NewStop, 1e-9)
	assert.InDelta(t, 0.40, plan.PartialQuantity, 1e-9)
	assert.False(t, plan.MarkPartialDone)
}

func TestPlanDefersBreakevenWhenClampedBelowEntry(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()
	p.BestExcursion = 50 // watermark reached earlier

	// Price fell back; a breakeven stop would have to sit below entry.
	plan := mgr.Plan(p, quoteAt(2002.0, 2002.4), 0, testFacts())

	assert.False(t, plan.ArmBreakeven)
	assert.Zero(t, plan.NewStop)
	assert.Equal(t, domain.StateOpen, plan.NextState)
	assert.InDelta(t, 50.0, plan.BestExcursion, 1e-9, "watermark never falls back")
}

func TestPlanRecordsPartialWithoutVenueCallWhenTooSmall(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()
	p.Quantity = 0.01
	p.InitialQuantity = 0.01

	plan := mgr.Plan(p, quoteAt(2005.0, 2005.5), 0, testFacts())

	assert.True(t, plan.ArmBreakeven)
	assert.Zero(t, plan.PartialQuantity)
	assert.True(t, plan.MarkPartialDone)
	assert.Equal(t, domain.StateArmed, plan.NextState)
}

func TestPlanRetriesPartialWhileArmed(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()
	p.State = domain.StateArmed
	p.BreakevenArmed = true
	p.StopPrice = 2000.5

	// Volatility unknown, so no trail; only the pending partial remains.
	plan := mgr.Plan(p, quoteAt(2005.0, 2005.5), 0, testFacts())

	assert.InDelta(t, 0.40, plan.PartialQuantity, 1e-9)
	assert.Zero(t, plan.NewStop)
	assert.Equal(t, domain.StateArmed, plan.NextState)
}

func TestPlanArmedIdenticalTickDoesNothing(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()
	p.State = domain.StateArmed
	p.BreakevenArmed = true
	p.PartialClosed = true
	p.Quantity = 0.40
	p.StopPrice = 2000.5
	p.BestExcursion = 50

	// Replaying the quote that armed breakeven and paid the partial.
	plan := mgr.Plan(p, quoteAt(2005.0, 2005.5), 0, testFacts())

	assert.False(t, plan.HasAction())
	assert.Equal(t, domain.StateArmed, plan.NextState)
	assert.InDelta(t, 50.0, plan.BestExcursion, 1e-9)
}

func TestPlanTrailsAndAdvancesFromArmed(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()
	p.State = domain.StateArmed
	p.BreakevenArmed = true
	p.PartialClosed = true
	p.Quantity = 0.40
	p.StopPrice = 2000.5

	// 1.5 * 60 points of ATR trails 9.0 behind the 2015 exit.
	plan := mgr.Plan(p, quoteAt(2015.0, 2015.5), 60, testFacts())

	assert.InDelta(t, 2006.0, plan.NewStop, 1e-9)
	assert.Zero(t, plan.PartialQuantity)
	assert.Equal(t, domain.StateTrailing, plan.NextState)
}

func TestPlanTrailOnlyTightens(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()
	p.State = domain.StateTrailing
	p.PartialClosed = true
	p.BreakevenArmed = true
	p.Quantity = 0.40
	p.StopPrice = 2006.0

	// A pullback would place the trail below the current stop.
	plan := mgr.Plan(p, quoteAt(2008.0, 2008.5), 60, testFacts())
	assert.Zero(t, plan.NewStop)
	assert.Equal(t, domain.StateTrailing, plan.NextState)

	// Replaying the quote that produced the current stop changes nothing.
	plan = mgr.Plan(p, quoteAt(2015.0, 2015.5), 60, testFacts())
	assert.Zero(t, plan.NewStop, "equal candidate must not be re-applied")
}

func TestPlanTrailFromOpen(t *testing.T) {
	cfg := defaultConfig()
	cfg.TrailFromOpen = true
	mgr := newTestManager(cfg)
	p := longPosition()

	// Below the breakeven trigger, but trailing is allowed early.
	plan := mgr.Plan(p, quoteAt(2003.0, 2003.5), 40, testFacts())

	assert.InDelta(t, 1997.0, plan.NewStop, 1e-9)
	assert.False(t, plan.ArmBreakeven)
	assert.Equal(t, domain.StateOpen, plan.NextState, "early trailing keeps the state")
}

func TestPlanShortBreakeven(t *testing.T) {
	mgr := newTestManager(defaultConfig())
	p := longPosition()
	p.Direction = domain.Short
	p.StopPrice = 2005.0

	// Short exits at the Ask; 1995 is 50 favorable points.
	plan := mgr.Plan(p, quoteAt(1994.5, 1995.0), 0, testFacts())

	assert.True(t, plan.ArmBreakeven)
	// Entry - (spread + extra) is 1999.3, pushed to Ask + 4.5.
	assert.InDelta(t, 1999.5, plan.NewStop, 1e-9)
	assert.InDelta(t, 0.40, plan.PartialQuantity, 1e-9)
	assert.Equal(t, domain.StateArmed, plan.NextState)
}
