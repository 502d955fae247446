package risk

import (
	"math"
	"strings"
	"time"
)

// Bounds for the regime multiplier after clamping.
const (
	minRegimeMultiplier = 0.1
	maxRegimeMultiplier = 2.0
)

// Reason explains why a risk allocation came back as zero.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonSymbolBlocked   Reason = "symbol_not_allowed"
	ReasonOutsideSession  Reason = "outside_session"
	ReasonBudgetExhausted Reason = "budget_exhausted"
)

// RegimePolicy scales the per-trade risk for the current market regime.
type RegimePolicy interface {
	Multiplier(now time.Time) float64
}

// StaticRegime applies a fixed multiplier regardless of time.
type StaticRegime struct {
	Mult float64
}

func (r StaticRegime) Multiplier(time.Time) float64 {
	return r.Mult
}

// SessionRegime scales risk down inside configured quiet windows and
// applies the base multiplier everywhere else.
type SessionRegime struct {
	Base      float64
	Quiet     []SessionWindow
	QuietMult float64
	Location  *time.Location
}

func (r SessionRegime) Multiplier(now time.Time) float64 {
	local := now
	if r.Location != nil {
		local = now.In(r.Location)
	}
	for _, w := range r.Quiet {
		if w.Contains(local) {
			return r.Base * r.QuietMult
		}
	}
	return r.Base
}

// AllocatorConfig holds configuration for per-trade risk allocation.
type AllocatorConfig struct {
	BaseRiskFraction        float64         // fraction of the reference balance risked per trade
	ReferenceBalance        float64         // static balance the base risk is computed against
	PerTradeDailyFraction   float64         // max share of the remaining daily budget per trade
	PerTradeOverallFraction float64         // max share of the remaining overall budget per trade
	Sessions                []SessionWindow // allowed trading windows, empty means always on
	Location                *time.Location
	Allowlist               []string // tradable symbols, empty means all
	Regime                  RegimePolicy
}

// RiskAllocator decides how much account currency one new trade may put
// at risk, given the remaining budgets and the current time.
type RiskAllocator struct {
	config    AllocatorConfig
	allowlist map[string]struct{}
}

// NewRiskAllocator creates a new risk allocator instance.
func NewRiskAllocator(config AllocatorConfig) *RiskAllocator {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Regime == nil {
		config.Regime = StaticRegime{Mult: 1.0}
	}
	var allow map[string]struct{}
	if len(config.Allowlist) > 0 {
		allow = make(map[string]struct{}, len(config.Allowlist))
		for _, sym := range config.Allowlist {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym != "" {
				allow[sym] = struct{}{}
			}
		}
	}
	return &RiskAllocator{config: config, allowlist: allow}
}

// AllowedRisk returns the account-currency amount one new trade may
// risk right now. A zero return carries the reason; such a proposal
// must not be sized.
func (r *RiskAllocator) AllowedRisk(symbol string, remainingDaily, remainingOverall float64, now time.Time) (float64, Reason) {
	if !r.symbolAllowed(symbol) {
		return 0, ReasonSymbolBlocked
	}
	if !r.inSession(now) {
		return 0, ReasonOutsideSession
	}

	// The tightest of the three budgets wins.
	base := r.config.BaseRiskFraction * r.config.ReferenceBalance
	fromDaily := r.config.PerTradeDailyFraction * remainingDaily
	fromOverall := r.config.PerTradeOverallFraction * remainingOverall
	allowed := math.Min(base, math.Min(fromDaily, fromOverall))
	if allowed <= 0 {
		return 0, ReasonBudgetExhausted
	}

	mult := r.config.Regime.Multiplier(now)
	mult = math.Max(minRegimeMultiplier, math.Min(maxRegimeMultiplier, mult))
	return allowed * mult, ReasonNone
}

func (r *RiskAllocator) symbolAllowed(symbol string) bool {
	if r.allowlist == nil {
		return true
	}
	_, ok := r.allowlist[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

func (r *RiskAllocator) inSession(now time.Time) bool {
	if len(r.config.Sessions) == 0 {
		return true
	}
	local := now.In(r.config.Location)
	for _, w := range r.config.Sessions {
		if w.Contains(local) {
			return true
		}
	}
	return false
}
