package risk

import (
	"fmt"
	"math"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"
)

// SizerConfig holds configuration for position sizing.
type SizerConfig struct {
	MarginKeepFraction float64 // fraction of equity kept free as a margin buffer
}

// PositionSizer converts a risk amount and a stop distance into an
// order quantity within instrument and margin constraints.
type PositionSizer struct {
	config SizerConfig
}

// NewPositionSizer creates a new position sizer instance.
func NewPositionSizer(config SizerConfig) *PositionSizer {
	return &PositionSizer{config: config}
}

// Size returns the largest tradable quantity that risks at most
// riskAmount over stopPoints. Quantities are floored to the instrument
// step, never rounded up; a result below the instrument minimum is
// infeasible rather than bumped to it.
func (s *PositionSizer) Size(riskAmount, stopPoints float64, acct *domain.AccountSnapshot, facts *domain.InstrumentFacts) (float64, error) {
	if stopPoints <= 0 || facts.ValuePerPoint <= 0 {
		return 0, fmt.Errorf("sizing needs a positive stop distance and point value: %w", ports.ErrSizingInfeasible)
	}
	qty := riskAmount / (stopPoints * facts.ValuePerPoint)

	// Margin ceiling: keep MarginKeepFraction of equity untouched.
	if facts.MarginPerUnit > 0 {
		budget := acct.FreeMargin - s.config.MarginKeepFraction*acct.Equity
		if budget <= 0 {
			return 0, fmt.Errorf("free margin below the configured buffer: %w", ports.ErrSizingInfeasible)
		}
		qty = math.Min(qty, budget/facts.MarginPerUnit)
	}

	if facts.MaxQty > 0 {
		qty = math.Min(qty, facts.MaxQty)
	}
	qty = facts.QuantizeQty(qty)
	if qty <= 0 || qty < facts.MinQty {
		return 0, fmt.Errorf("quantity %v below instrument minimum %v: %w", qty, facts.MinQty, ports.ErrSizingInfeasible)
	}
	return qty, nil
}
