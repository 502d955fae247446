package ports

import (
	"context"
	"time"

	"copyRiskBot/internal/domain"
)

// OrderSpec is the fully determined order the engine asks the venue to
// place. StopPrice is always set; TargetPrice may be 0 for none.
type OrderSpec struct {
	Symbol      string
	Direction   domain.Direction
	Quantity    float64
	StopPrice   float64
	TargetPrice float64
	ClientTag   string // correlation tag echoed into the client order id
}

// OrderResult reports the essential details of a filled entry order.
type OrderResult struct {
	PositionID string // venue identifier for the resulting position
	FillPrice  float64
	Quantity   float64
	PlacedAt   time.Time
}

// VenuePosition is the venue's view of an open position, used for
// reconciliation against the engine's own book.
type VenuePosition struct {
	ID          string
	Symbol      string
	Direction   domain.Direction
	Quantity    float64
	EntryPrice  float64
	StopPrice   float64 // 0 if no protective order found
	TargetPrice float64 // 0 if no target order found
}

// VenueClient defines the interface for interacting with the execution
// venue. This abstraction decouples the risk engine from any specific
// broker or exchange implementation.
type VenueClient interface {
	// GetAccount retrieves a snapshot of equity, balance and free margin.
	GetAccount(ctx context.Context) (*domain.AccountSnapshot, error)

	// GetInstrumentFacts retrieves contract and constraint data for a symbol.
	GetInstrumentFacts(ctx context.Context, symbol string) (*domain.InstrumentFacts, error)

	// GetQuote retrieves the current top-of-book for a symbol.
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)

	// GetBars retrieves the most recent count bars for the symbol on the
	// given timeframe (e.g. "M5"), oldest first.
	GetBars(ctx context.Context, symbol, timeframe string, count int) ([]*domain.Bar, error)

	// GetOpenPositions lists open positions, optionally filtered by
	// symbol (empty string means all symbols).
	GetOpenPositions(ctx context.Context, symbol string) ([]*VenuePosition, error)

	// PlaceOrder opens a position at market with protective orders attached.
	PlaceOrder(ctx context.Context, spec *OrderSpec) (*OrderResult, error)

	// ModifyStopTarget replaces the protective levels on an open
	// position. A zero target leaves the position without one.
	ModifyStopTarget(ctx context.Context, positionID string, stopPrice, targetPrice float64) error

	// ClosePosition closes the given fraction (0 < fraction <= 1) of an
	// open position at market.
	ClosePosition(ctx context.Context, positionID string, fraction float64) error
}
