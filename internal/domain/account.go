package domain

import "time"

// AccountSnapshot is a point-in-time view of the follower account.
type AccountSnapshot struct {
	Equity     float64 // balance plus floating PnL
	Balance    float64 // realized balance
	FreeMargin float64 // margin still available for new positions
	At         time.Time
}

// DayState anchors the daily loss budget: it records the equity at the
// first activity of a trading day and is replaced, never merged, when
// the day rolls over.
type DayState struct {
	DateKey     string // YYYY-MM-DD in the configured timezone
	StartEquity float64
	StartedAt   time.Time
}
