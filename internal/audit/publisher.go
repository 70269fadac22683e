package audit

import (
	"context"
	"log/slog"
	"time"
)

// Store is the append-only persistence for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByPortal(ctx context.Context, portalID int64) ([]Event, error)
}

// Publisher captures structured audit events. Appends to the store are
// synchronous; forwarding to an external sink happens through a buffered
// channel drained by a Worker, so a slow broker never stalls a request.
type Publisher struct {
	store  Store
	logger *slog.Logger
	events chan Event
}

// NewPublisher builds a publisher. bufferSize 0 disables sink forwarding
// (no Worker attached).
func NewPublisher(store Store, logger *slog.Logger, bufferSize int) *Publisher {
	p := &Publisher{store: store, logger: logger}
	if bufferSize > 0 {
		p.events = make(chan Event, bufferSize)
	}
	return p
}

// Events exposes the forwarding channel for a Worker.
func (p *Publisher) Events() <-chan Event {
	return p.events
}

// Emit records the event. A full forwarding buffer drops the sink copy
// rather than blocking; the store copy is already durable.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	if p.events != nil {
		select {
		case p.events <- event:
		default:
			p.logger.WarnContext(ctx, "audit sink buffer full, dropping event",
				"action", event.Action,
				"portal_id", event.PortalID,
			)
		}
	}
	return nil
}

// List returns the audit trail for a portal.
func (p *Publisher) List(ctx context.Context, portalID int64) ([]Event, error) {
	return p.store.ListByPortal(ctx, portalID)
}
