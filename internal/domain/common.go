package domain

import (
	"fmt"
	"strings"
)

// Direction represents the side of a position (long or short).
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for long and -1 for short, so signed price offsets
// can be computed without branching on the direction.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Opposite returns the mirrored direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// ParseDirection converts a wire or config string into a Direction.
// Accepts the master terminal's "buy"/"sell" as well as "long"/"short".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return Long, nil
	case "sell", "short":
		return Short, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// CopyMode controls how a master trade is transformed before it is
// mirrored on the follower account.
type CopyMode string

const (
	// ModeSameSide copies the trade as-is: same direction, same levels.
	ModeSameSide CopyMode = "SAME_SIDE"
	// ModeOppositeSide inverts the direction and mirrors the master's
	// stop/target distances around the follower entry.
	ModeOppositeSide CopyMode = "OPPOSITE_SIDE"
	// ModeLevelSwap inverts the direction and swaps the master's stop
	// and target levels, so the master's target becomes the protective
	// level on the follower side.
	ModeLevelSwap CopyMode = "LEVEL_SWAP"
)

// ParseCopyMode converts a config string into a CopyMode. An empty
// string defaults to SAME_SIDE.
func ParseCopyMode(s string) (CopyMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SAME_SIDE", "":
		return ModeSameSide, nil
	case "OPPOSITE_SIDE":
		return ModeOppositeSide, nil
	case "LEVEL_SWAP":
		return ModeLevelSwap, nil
	default:
		return "", fmt.Errorf("unknown copy mode %q", s)
	}
}

// PositionState tracks where a managed position sits in its lifecycle.
type PositionState string

const (
	// StateOpen is the initial state after the entry fills.
	StateOpen PositionState = "OPEN"
	// StateArmed means the stop sits at breakeven and the partial close
	// has been taken (or was skipped as infeasible).
	StateArmed PositionState = "ARMED"
	// StateTrailing means the stop is following price via the volatility trail.
	StateTrailing PositionState = "TRAILING"
	// StateClosed is terminal.
	StateClosed PositionState = "CLOSED"
)

// PositionStatus represents whether a position row is still live.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason indicates why a managed position was closed.
type CloseReason string

const (
	// CloseReasonMaster means the master account closed the source trade.
	CloseReasonMaster CloseReason = "MASTER_CLOSE"
	// CloseReasonVenue means the venue closed it (stop, target or liquidation).
	CloseReasonVenue CloseReason = "VENUE_CLOSE"
	// CloseReasonUnknown is used when the position disappeared without
	// an attributable cause.
	CloseReasonUnknown CloseReason = "UNKNOWN"
)

// EventKind classifies an incoming copy event from the master terminal.
type EventKind string

const (
	EventOpen   EventKind = "OPEN"
	EventModify EventKind = "MODIFY"
	EventClose  EventKind = "CLOSE"
)
