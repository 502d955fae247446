package domain

import "time"

// CopyEvent is one decoded message from the master terminal. RefID is
// the master-side ticket and is the correlation key for the whole
// lifetime of the copied trade.
type CopyEvent struct {
	Kind      EventKind
	RefID     int64
	Symbol    string
	Direction Direction
	Entry     float64
	Stop      float64 // 0 means no stop on the master side
	Target    float64 // 0 means no target on the master side
	At        time.Time
}

// RiskEvent is an audit record of a risk decision or lifecycle action.
type RiskEvent struct {
	At     time.Time
	Kind   string
	Symbol string
	RefID  int64
	Detail string
}

// Risk event kinds written to the audit log.
const (
	RiskEventAdmitted  = "admitted"
	RiskEventRejected  = "rejected"
	RiskEventOpened    = "opened"
	RiskEventModified  = "modified"
	RiskEventPartial   = "partial_close"
	RiskEventBreakeven = "breakeven"
	RiskEventTrail     = "trail"
	RiskEventClosed    = "closed"
	RiskEventDayRolled = "day_rolled"
	RiskEventHalted    = "halted"
)
