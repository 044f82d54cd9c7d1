package worker

import (
	"context"
	"log/slog"

	audit "examgate/pkg/platform/audit"
)

// Worker drains audit events from a channel into one or more appenders. A
// failing appender is logged and skipped so one bad sink never stalls the
// others.
type Worker struct {
	appenders []audit.Appender
	inbox     <-chan audit.Event
	logger    *slog.Logger
}

func NewWorker(inbox <-chan audit.Event, logger *slog.Logger, appenders ...audit.Appender) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{appenders: appenders, inbox: inbox, logger: logger}
}

// Run processes events until the inbox is closed. ctx bounds each append, not
// the loop, so Close-driven draining still delivers buffered events.
func (w *Worker) Run(ctx context.Context) {
	for event := range w.inbox {
		w.Deliver(ctx, event)
	}
}

// Deliver appends one event to every appender.
func (w *Worker) Deliver(ctx context.Context, event audit.Event) error {
	var firstErr error
	for _, a := range w.appenders {
		if err := a.Append(ctx, event); err != nil {
			w.logger.ErrorContext(ctx, "failed to append audit event",
				"action", event.Action,
				"attempt_id", event.AttemptID.String(),
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
