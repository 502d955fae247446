package risk

import (
	"fmt"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"
)

// AdmissionConfig holds configuration for the aggregate open-risk cap.
type AdmissionConfig struct {
	Fraction float64 // max share of the remaining daily budget held as open risk
}

// Decision is the outcome of an admission check.
type Decision struct {
	Quantity   float64
	RiskAmount float64
	Shrunk     bool
}

// AdmissionController enforces the aggregate open-risk cap. Pending
// reservations bridge the gap between the admission decision and the
// venue fill, so two concurrent proposals cannot both claim the last
// slice of budget.
//
// NOTE: The controller holds no lock of its own. The service serializes
// Evaluate, Reserve, Commit and Release under its mutex.
type AdmissionController struct {
	config  AdmissionConfig
	pending map[string]float64
}

// NewAdmissionController creates a new admission controller instance.
func NewAdmissionController(config AdmissionConfig) *AdmissionController {
	return &AdmissionController{
		config:  config,
		pending: make(map[string]float64),
	}
}

// Evaluate checks the proposed quantity against the open-risk cap.
// openRisk must already include pending reservations. When the full
// quantity does not fit, the largest step-aligned quantity that does is
// returned with Shrunk set; a fit below the instrument minimum rejects.
func (a *AdmissionController) Evaluate(openRisk, remainingDaily, quantity, stopPoints float64, facts *domain.InstrumentFacts) (*Decision, error) {
	if stopPoints <= 0 || facts.ValuePerPoint <= 0 {
		return nil, fmt.Errorf("admission needs a positive stop distance and point value: %w", ports.ErrSizingInfeasible)
	}
	perUnit := stopPoints * facts.ValuePerPoint
	capAmount := a.config.Fraction * remainingDaily
	if capAmount <= 0 {
		return nil, fmt.Errorf("remaining daily budget exhausted: %w", ports.ErrInsufficientBudget)
	}
	headroom := capAmount - openRisk

	if need := quantity * perUnit; need <= headroom+1e-9 {
		return &Decision{Quantity: quantity, RiskAmount: need}, nil
	}
	if headroom <= 0 {
		return nil, fmt.Errorf("open risk %.2f already at cap %.2f: %w", openRisk, capAmount, ports.ErrAdmissionRejected)
	}

	fit := facts.QuantizeQty(headroom / perUnit)
	if fit <= 0 || fit < facts.MinQty {
		return nil, fmt.Errorf("headroom %.2f fits no tradable quantity: %w", headroom, ports.ErrAdmissionRejected)
	}
	return &Decision{Quantity: fit, RiskAmount: fit * perUnit, Shrunk: true}, nil
}

// Reserve holds riskAmount against the cap under token until the venue
// call settles one way or the other.
func (a *AdmissionController) Reserve(token string, riskAmount float64) {
	a.pending[token] = riskAmount
}

// Commit drops the reservation once the fill is recorded in the
// position book, where the risk is counted from then on.
func (a *AdmissionController) Commit(token string) {
	delete(a.pending, token)
}

// Release drops the reservation after a failed or abandoned placement.
func (a *AdmissionController) Release(token string) {
	delete(a.pending, token)
}

// PendingRisk returns the sum of reserved, not yet committed risk.
func (a *AdmissionController) PendingRisk() float64 {
	total := 0.0
	for _, r := range a.pending {
		total += r
	}
	return total
}
