package lifecycle

import (
	"math"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/risk"
)

// Config holds configuration for position lifecycle management.
type Config struct {
	BreakevenTriggerRR   float64 // reward multiple of the initial stop that arms breakeven
	BreakevenExtraPoints float64 // points locked in beyond spread when moving to breakeven
	PartialCloseFraction float64 // share of the position closed at the breakeven milestone
	VolatilityMultiplier float64 // ATR multiple for the trailing distance
	TrailFromOpen        bool    // allow stop tightening before the breakeven milestone
}

// Plan is the set of actions the manager wants applied to one position
// on a tick. Zero values mean no action of that kind; BestExcursion is
// always the updated watermark.
type Plan struct {
	BestExcursion   float64 // favorable excursion watermark, in points
	NewStop         float64 // 0 leaves the stop alone
	PartialQuantity float64 // 0 means no partial close this tick
	ArmBreakeven    bool    // record the breakeven milestone on commit
	MarkPartialDone bool    // record the partial milestone without a venue call
	NextState       domain.PositionState
}

// HasAction reports whether the plan asks for any venue call or state change.
func (p *Plan) HasAction() bool {
	return p.NewStop > 0 || p.PartialQuantity > 0 || p.ArmBreakeven || p.MarkPartialDone
}

// Manager drives open positions through the OPEN, ARMED and TRAILING
// stages. It only ever proposes stop moves that tighten, so recomputing
// a plan on the next tick after a failed venue call is harmless.
type Manager struct {
	config Config
	stops  *risk.StopTargetBuilder
}

// New creates a new lifecycle manager instance. The stop builder is
// shared with admission so both clamp against the same broker limits.
func New(config Config, stops *risk.StopTargetBuilder) *Manager {
	return &Manager{config: config, stops: stops}
}

// Plan computes the next actions for p given the current quote and
// volatility. It does not mutate p; the service applies the plan after
// the venue accepted the calls it implies.
func (m *Manager) Plan(p *domain.ManagedPosition, quote *domain.Quote, atrPoints float64, facts *domain.InstrumentFacts) *Plan {
	plan := &Plan{NextState: p.State}
	exit := quote.ExitPrice(p.Direction)
	plan.BestExcursion = math.Max(p.BestExcursion, p.FavorableExcursionPoints(exit))

	switch p.State {
	case domain.StateOpen:
		rr := 0.0
		if p.StopPoints > 0 {
			rr = plan.BestExcursion / p.StopPoints
		}
		if rr >= m.config.BreakevenTriggerRR {
			m.planBreakeven(plan, p, quote, facts)
		} else if m.config.TrailFromOpen {
			m.planTrail(plan, p, quote, atrPoints, facts, false)
		}
	case domain.StateArmed:
		if !p.PartialClosed {
			plan.PartialQuantity, plan.MarkPartialDone = m.partialQuantity(p, facts)
		}
		m.planTrail(plan, p, quote, atrPoints, facts, true)
	case domain.StateTrailing:
		m.planTrail(plan, p, quote, atrPoints, facts, false)
	}
	return plan
}

// planBreakeven moves the stop to entry plus spread plus the configured
// extra, takes the partial, and advances the state. Arming is deferred
// when broker limits would force the stop below entry.
func (m *Manager) planBreakeven(plan *Plan, p *domain.ManagedPosition, quote *domain.Quote, facts *domain.InstrumentFacts) {
	sign := p.Direction.Sign()
	raw := p.EntryPrice + sign*(quote.Spread()+m.config.BreakevenExtraPoints*facts.PointSize)
	candidate := m.stops.ValidStop(p.Direction, raw, quote, facts)
	if (candidate-p.EntryPrice)*sign < 0 {
		return
	}

	plan.ArmBreakeven = true
	if p.Tightens(candidate) {
		plan.NewStop = candidate
	}
	plan.PartialQuantity, plan.MarkPartialDone = m.partialQuantity(p, facts)
	plan.NextState = domain.StateArmed
}

// planTrail proposes a stop at the current exit price minus the ATR
// multiple, applied only when it tightens. advance moves the state to
// TRAILING on the first applied trail.
func (m *Manager) planTrail(plan *Plan, p *domain.ManagedPosition, quote *domain.Quote, atrPoints float64, facts *domain.InstrumentFacts, advance bool) {
	if atrPoints <= 0 || m.config.VolatilityMultiplier <= 0 {
		// Volatility unknown, leave the stop where it is.
		return
	}
	sign := p.Direction.Sign()
	exit := quote.ExitPrice(p.Direction)
	raw := exit - sign*m.config.VolatilityMultiplier*atrPoints*facts.PointSize
	candidate := m.stops.ValidStop(p.Direction, raw, quote, facts)
	if !p.Tightens(candidate) {
		return
	}
	plan.NewStop = candidate
	if advance {
		plan.NextState = domain.StateTrailing
	}
}

// partialQuantity returns how much to close at the breakeven milestone.
// done is true when the position is too small to split, in which case
// the milestone is recorded without touching the venue.
func (m *Manager) partialQuantity(p *domain.ManagedPosition, facts *domain.InstrumentFacts) (qty float64, done bool) {
	if m.config.PartialCloseFraction <= 0 {
		return 0, true
	}
	qty = facts.QuantizeQty(p.Quantity * m.config.PartialCloseFraction)
	if qty < facts.MinQty || p.Quantity-qty < facts.MinQty {
		return 0, true
	}
	return qty, false
}
