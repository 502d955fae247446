package domain

import "time"

// TradeProposal is a master OPEN event queued for admission. Direction
// and levels are the master's own; the stop builder applies the copy
// mode when it derives the follower side.
type TradeProposal struct {
	RefID      int64
	Symbol     string
	Direction  Direction
	Entry      float64 // master entry, reference only
	Stop       float64 // master stop, 0 if absent
	Target     float64 // master target, 0 if absent
	ReceivedAt time.Time
}
