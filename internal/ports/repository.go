package ports

import (
	"context"

	"copyRiskBot/internal/domain"
)

// StateRepository defines the interface for persisting engine state so
// a restart resumes with the same day budget and managed positions.
type StateRepository interface {
	// UpsertDayState saves the day anchor, replacing any row for the same date key.
	UpsertDayState(ctx context.Context, ds *domain.DayState) error
	// FindDayState retrieves the day anchor for a date key.
	// Returns nil, nil if no row exists.
	FindDayState(ctx context.Context, dateKey string) (*domain.DayState, error)
	// SavePosition inserts or replaces a managed position by its ID.
	SavePosition(ctx context.Context, pos *domain.ManagedPosition) error
	// UpdatePosition modifies an existing managed position.
	// Returns ErrNotFound if no row matches.
	UpdatePosition(ctx context.Context, pos *domain.ManagedPosition) error
	// FindOpenPositions retrieves all positions with open status.
	FindOpenPositions(ctx context.Context) ([]*domain.ManagedPosition, error)
	// LogEvent appends a risk event to the audit log.
	LogEvent(ctx context.Context, ev *domain.RiskEvent) error
}
