package risk

import (
	"fmt"
	"math"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"
)

// StopBuilderConfig holds configuration for protective level construction.
type StopBuilderConfig struct {
	Mode                   domain.CopyMode
	VolatilityMultiplier   float64 // ATR multiple for synthetic stop distances
	MinSyntheticStopPoints float64 // floor for synthetic stop distances, in points
	CushionPoints          float64 // extra distance beyond broker stop and freeze levels
}

// StopPlan is the outcome of protective level construction. StopPoints
// is the final stop distance measured from the anchor after clamping,
// and is the distance sizing must use.
type StopPlan struct {
	Direction   domain.Direction
	AnchorPrice float64
	StopPrice   float64
	TargetPrice float64 // 0 means no target
	StopPoints  float64
}

// StopTargetBuilder turns a master proposal into follower protective
// levels: copy-mode transformation, synthetic distances where the
// master carries no stop, and broker validity clamping.
type StopTargetBuilder struct {
	config StopBuilderConfig
}

// NewStopTargetBuilder creates a new stop/target builder instance.
func NewStopTargetBuilder(config StopBuilderConfig) *StopTargetBuilder {
	return &StopTargetBuilder{config: config}
}

// FollowerDirection maps the master side onto the follower side for
// the configured copy mode.
func (b *StopTargetBuilder) FollowerDirection(master domain.Direction) domain.Direction {
	if b.config.Mode == domain.ModeSameSide {
		return master
	}
	return master.Opposite()
}

// Build constructs the follower stop and target for an open proposal.
// The stop is anchored at the follower's live tradable price and built
// before sizing, so the returned StopPoints drives the quantity.
func (b *StopTargetBuilder) Build(p *domain.TradeProposal, facts *domain.InstrumentFacts, quote *domain.Quote, atrPoints float64) (*StopPlan, error) {
	if facts.PointSize <= 0 {
		return nil, fmt.Errorf("instrument %s has no point size: %w", facts.Symbol, ports.ErrDataUnavailable)
	}
	dir := b.FollowerDirection(p.Direction)
	anchor := quote.EntryPrice(dir)
	sign := dir.Sign()

	stop, target, haveStop := b.referenceLevels(p, anchor, sign)
	if !haveStop {
		// Synthetic distance from volatility when the master trades naked.
		if atrPoints <= 0 {
			return nil, fmt.Errorf("no master stop and volatility unknown for %s: %w", p.Symbol, ports.ErrDataUnavailable)
		}
		points := math.Max(b.config.VolatilityMultiplier*atrPoints,
			math.Max(facts.StopLevelPoints, b.config.MinSyntheticStopPoints))
		stop = anchor - sign*points*facts.PointSize
	}

	gap := b.minGapPrice(facts)
	stop = facts.RoundPrice(clampStop(dir, stop, quote, gap))
	if target > 0 {
		target = facts.RoundPrice(clampTarget(dir, target, quote, gap))
	}

	points := math.Abs(anchor-stop) / facts.PointSize
	if points <= 0 {
		return nil, fmt.Errorf("stop distance collapsed to zero for %s: %w", p.Symbol, ports.ErrSizingInfeasible)
	}
	return &StopPlan{
		Direction:   dir,
		AnchorPrice: anchor,
		StopPrice:   stop,
		TargetPrice: target,
		StopPoints:  points,
	}, nil
}

// referenceLevels derives candidate levels from the master's levels.
// haveStop is false when the master carries no usable stop reference.
// sign must be the follower direction's sign.
func (b *StopTargetBuilder) referenceLevels(p *domain.TradeProposal, anchor, sign float64) (stop, target float64, haveStop bool) {
	if b.config.Mode == domain.ModeLevelSwap && p.Stop > 0 && p.Target > 0 {
		// The master's target protects the inverted position and the
		// master's stop becomes its target.
		return p.Target, p.Stop, true
	}

	// Master levels are carried as distances and re-anchored at the
	// follower's live price, which absorbs feed drift between the two
	// accounts. LEVEL_SWAP with a missing level degrades to this path.
	if p.Target > 0 && p.Entry > 0 {
		target = anchor + sign*math.Abs(p.Entry-p.Target)
	}
	if p.Stop > 0 && p.Entry > 0 {
		stop = anchor - sign*math.Abs(p.Entry-p.Stop)
		haveStop = true
	}
	return stop, target, haveStop
}

// TransformModify maps updated master levels onto candidate levels for
// an existing follower position entered at posEntry. Zero master levels
// stay zero so the caller can tell "unset" from "moved".
func (b *StopTargetBuilder) TransformModify(masterEntry, masterStop, masterTarget, posEntry float64, posDir domain.Direction) (stop, target float64) {
	switch b.config.Mode {
	case domain.ModeLevelSwap:
		return masterTarget, masterStop
	case domain.ModeOppositeSide:
		sign := posDir.Sign()
		if masterStop > 0 && masterEntry > 0 {
			stop = posEntry - sign*math.Abs(masterEntry-masterStop)
		}
		if masterTarget > 0 && masterEntry > 0 {
			target = posEntry + sign*math.Abs(masterEntry-masterTarget)
		}
		return stop, target
	default: // ModeSameSide
		return masterStop, masterTarget
	}
}

// ValidStop clamps a candidate stop to broker validity against the
// current quote and rounds it to instrument precision.
func (b *StopTargetBuilder) ValidStop(dir domain.Direction, candidate float64, quote *domain.Quote, facts *domain.InstrumentFacts) float64 {
	return facts.RoundPrice(clampStop(dir, candidate, quote, b.minGapPrice(facts)))
}

// ValidTarget clamps a candidate target outward to broker validity.
// A zero candidate stays zero.
func (b *StopTargetBuilder) ValidTarget(dir domain.Direction, candidate float64, quote *domain.Quote, facts *domain.InstrumentFacts) float64 {
	if candidate <= 0 {
		return 0
	}
	return facts.RoundPrice(clampTarget(dir, candidate, quote, b.minGapPrice(facts)))
}

func (b *StopTargetBuilder) minGapPrice(facts *domain.InstrumentFacts) float64 {
	return MinProtectiveGap(facts, b.config.CushionPoints)
}

// MinProtectiveGap returns the closest distance, in price units, a
// protective level may sit from the live tradable price.
func MinProtectiveGap(facts *domain.InstrumentFacts, cushionPoints float64) float64 {
	return (facts.StopLevelPoints + facts.FreezeLevelPoints + cushionPoints) * facts.PointSize
}

// clampStop pushes a stop far enough from the live price that the
// broker will accept it. Stops trigger at Bid for longs and Ask for
// shorts, so validity is measured against those sides.
func clampStop(dir domain.Direction, stop float64, quote *domain.Quote, gap float64) float64 {
	if dir == domain.Long {
		if maxValid := quote.Bid - gap; stop > maxValid {
			return maxValid
		}
		return stop
	}
	if minValid := quote.Ask + gap; stop < minValid {
		return minValid
	}
	return stop
}

// clampTarget pushes a target outward when it sits too close to the market.
func clampTarget(dir domain.Direction, target float64, quote *domain.Quote, gap float64) float64 {
	if dir == domain.Long {
		if minValid := quote.Ask + gap; target < minValid {
			return minValid
		}
		return target
	}
	if maxValid := quote.Bid - gap; target > maxValid {
		return maxValid
	}
	return target
}
