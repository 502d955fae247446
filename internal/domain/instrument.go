package domain

import (
	"math"
	"time"
)

// InstrumentFacts describes the contract and trading constraints for a
// symbol as reported by the venue, optionally overlaid with configured
// fallbacks for fields the venue does not expose.
type InstrumentFacts struct {
	Symbol            string
	PointSize         float64 // smallest price increment
	Digits            int     // decimal places for price rounding
	QtyStep           float64 // quantity granularity
	MinQty            float64
	MaxQty            float64
	StopLevelPoints   float64 // minimum broker distance for stop orders, in points
	FreezeLevelPoints float64 // no-modify zone around the market, in points
	ValuePerPoint     float64 // account-currency value of one point for one unit
	MarginPerUnit     float64 // margin required to hold one unit
}

// QuantizeQty floors q to the instrument's quantity step. A small
// epsilon absorbs float noise so 0.30000000000000004 stays 0.30.
func (f *InstrumentFacts) QuantizeQty(q float64) float64 {
	if f.QtyStep <= 0 {
		return q
	}
	steps := math.Floor(q/f.QtyStep + 1e-9)
	if steps < 0 {
		steps = 0
	}
	return steps * f.QtyStep
}

// RoundPrice rounds a price to the instrument's digit precision.
func (f *InstrumentFacts) RoundPrice(p float64) float64 {
	if f.Digits <= 0 {
		return p
	}
	pow := math.Pow(10, float64(f.Digits))
	return math.Round(p*pow) / pow
}

// Quote is a live top-of-book snapshot.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	At     time.Time
}

// EntryPrice returns the tradable price for opening a position in the
// given direction: longs buy at the ask, shorts sell at the bid.
func (q *Quote) EntryPrice(d Direction) float64 {
	if d == Long {
		return q.Ask
	}
	return q.Bid
}

// ExitPrice returns the tradable price for closing a position in the
// given direction: longs sell at the bid, shorts buy at the ask.
func (q *Quote) ExitPrice(d Direction) float64 {
	if d == Long {
		return q.Bid
	}
	return q.Ask
}

// Spread returns the ask/bid spread in price units, never negative.
func (q *Quote) Spread() float64 {
	s := q.Ask - q.Bid
	if s < 0 {
		return 0
	}
	return s
}

// Bar is one OHLC candle used for volatility estimation.
type Bar struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}
