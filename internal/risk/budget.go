package risk

import (
	"math"
	"time"

	"copyRiskBot/internal/domain"
)

// BudgetConfig holds configuration for the daily and overall loss budgets.
type BudgetConfig struct {
	DailyAbsoluteCap float64        // max account-currency loss per trading day
	DailyPercentCap  float64        // max daily loss as fraction of day-start equity, 0 disables
	EquityFloor      float64        // equity level that must never be breached
	Location         *time.Location // timezone that defines the trading day
}

// BudgetTracker derives the remaining daily and overall loss budgets
// from a day-start equity anchor. It holds no lock of its own; the
// service serializes all access.
type BudgetTracker struct {
	config BudgetConfig
	day    *domain.DayState
}

// NewBudgetTracker creates a new budget tracker instance.
func NewBudgetTracker(config BudgetConfig) *BudgetTracker {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &BudgetTracker{config: config}
}

// Restore installs a persisted day anchor, typically at startup.
func (b *BudgetTracker) Restore(ds *domain.DayState) {
	b.day = ds
}

// Day returns the active day anchor, nil before the first activity.
func (b *BudgetTracker) Day() *domain.DayState {
	return b.day
}

// DateKey formats t as a day key in the tracker's timezone.
func (b *BudgetTracker) DateKey(t time.Time) string {
	return t.In(b.config.Location).Format("2006-01-02")
}

// RollIfNeeded starts a fresh day anchor when now falls on a different
// calendar day than the active one. The old anchor is replaced, never
// merged. Returns the active anchor and whether it was replaced.
func (b *BudgetTracker) RollIfNeeded(equity float64, now time.Time) (*domain.DayState, bool) {
	key := b.DateKey(now)
	if b.day != nil && b.day.DateKey == key {
		return b.day, false
	}
	b.day = &domain.DayState{
		DateKey:     key,
		StartEquity: equity,
		StartedAt:   now,
	}
	return b.day, true
}

// DailyCap returns the effective loss cap for the active day: the
// absolute cap, tightened by the percent cap when one is configured.
func (b *BudgetTracker) DailyCap() float64 {
	limit := b.config.DailyAbsoluteCap
	if b.day != nil && b.config.DailyPercentCap > 0 {
		limit = math.Min(limit, b.config.DailyPercentCap*b.day.StartEquity)
	}
	return limit
}

// RemainingDaily returns how much more the account may lose today.
// Intraday gains do not extend the budget; only losses consume it.
// Returns 0 before the first roll of the day.
func (b *BudgetTracker) RemainingDaily(equity float64) float64 {
	if b.day == nil {
		return 0
	}
	lossSoFar := math.Max(0, b.day.StartEquity-equity)
	return math.Max(0, b.DailyCap()-lossSoFar)
}

// RemainingOverall returns the distance between current equity and the
// hard equity floor.
func (b *BudgetTracker) RemainingOverall(equity float64) float64 {
	return math.Max(0, equity-b.config.EquityFloor)
}
