package audit

import (
	"context"
	"log/slog"
)

// Sink forwards audit events to an external system.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Worker drains the publisher's forwarding channel into a sink. Sink
// failures are logged and skipped; the store already holds the event.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	defer w.sink.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Publish(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "audit sink publish failed",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}
