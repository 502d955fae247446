package ports

import (
	"context"

	"copyRiskBot/internal/domain"
)

// EventHandler processes one decoded copy event. Handlers are invoked
// sequentially per connection and must not retain the event.
type EventHandler func(ctx context.Context, event *domain.CopyEvent)

// EventSource delivers copy events from the master terminal.
type EventSource interface {
	// Run blocks, delivering events to handler until ctx is canceled.
	// It returns nil on clean shutdown.
	Run(ctx context.Context, handler EventHandler) error
}
