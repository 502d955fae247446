package domain

import "time"

// ManagedPosition is a follower-side position under lifecycle
// management. StopPoints and RiskAmount are frozen at admission time so
// the initial protective distance stays available for reward-ratio
// math after the stop has moved.
type ManagedPosition struct {
	ID              string // engine-assigned identifier, unique per copied trade
	RefID           int64  // master ticket this position mirrors
	Symbol          string
	Direction       Direction
	State           PositionState
	EntryPrice      float64
	Quantity        float64 // current quantity, shrinks on partial close
	InitialQuantity float64
	StopPrice       float64
	TargetPrice     float64
	StopPoints      float64 // protective distance at admission, in points
	RiskAmount      float64 // account-currency risk at admission
	PointSize       float64
	ValuePerPoint   float64
	BreakevenArmed  bool
	PartialClosed   bool
	BestExcursion   float64 // best favorable excursion seen since open, in points
	OpenedAt        time.Time
	ClosedAt        time.Time // zero value while open
	Status          PositionStatus
	CloseReason     CloseReason
}

// IsOpen checks if the position status is open.
func (p *ManagedPosition) IsOpen() bool {
	return p.Status == StatusOpen
}

// ProtectiveDistancePoints returns the distance between entry and the
// current stop, in points. Falls back to the admission-time distance
// when no live stop is known, and clamps at zero once the stop has
// crossed breakeven.
func (p *ManagedPosition) ProtectiveDistancePoints() float64 {
	if p.PointSize <= 0 {
		return 0
	}
	if p.StopPrice <= 0 {
		return p.StopPoints
	}
	dist := (p.EntryPrice - p.StopPrice) * p.Direction.Sign() / p.PointSize
	if dist < 0 {
		return 0
	}
	return dist
}

// OpenRisk returns the account-currency amount still at risk on this
// position. It shrinks as the stop tightens and as quantity is taken
// off, so the admission ledger frees headroom over a trade's life.
func (p *ManagedPosition) OpenRisk() float64 {
	return p.Quantity * p.ProtectiveDistancePoints() * p.ValuePerPoint
}

// Tightens reports whether candidate is a strictly better protective
// level than the current stop. Any positive candidate tightens a
// position that has no stop yet.
func (p *ManagedPosition) Tightens(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.StopPrice <= 0 {
		return true
	}
	if p.Direction == Long {
		return candidate > p.StopPrice
	}
	return candidate < p.StopPrice
}

// FavorableExcursionPoints returns how far price has moved in the
// position's favor, in points. Negative while under water.
func (p *ManagedPosition) FavorableExcursionPoints(price float64) float64 {
	if p.PointSize <= 0 {
		return 0
	}
	return (price - p.EntryPrice) * p.Direction.Sign() / p.PointSize
}
