package worker

import (
	"context"
	"log/slog"

	audit "github.com/drewstone/edgeware-watcher/pkg/platform/audit"
)

const defaultMaxBatch = 64

// Worker drains audit events from a channel into a store. Events already queued
// behind the one received are flushed together when the store supports batches.
// A failed write is logged and dropped so one bad write cannot stall the journal.
type Worker struct {
	store    audit.Store
	inbox    <-chan audit.Event
	maxBatch int
	logger   *slog.Logger
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithMaxBatch caps how many queued events are written in one batch.
func WithMaxBatch(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxBatch = n
		}
	}
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox, maxBatch: defaultMaxBatch, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run returns nil once the inbox is closed and drained, or ctx.Err() if ctx ends first.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.write(ctx, w.drain(event))
		}
	}
}

// drain collects first plus whatever is already queued, without blocking.
func (w *Worker) drain(first audit.Event) []audit.Event {
	batch := []audit.Event{first}
	for len(batch) < w.maxBatch {
		select {
		case event, ok := <-w.inbox:
			if !ok {
				return batch
			}
			batch = append(batch, event)
		default:
			return batch
		}
	}
	return batch
}

func (w *Worker) write(ctx context.Context, batch []audit.Event) {
	if bs, ok := w.store.(audit.BatchStore); ok && len(batch) > 1 {
		if err := bs.AppendBatch(ctx, batch); err != nil {
			w.logger.ErrorContext(ctx, "failed to append audit batch",
				"error", err,
				"events", len(batch),
				"run_id", batch[0].RunID.String(),
			)
		}
		return
	}
	for _, event := range batch {
		if err := w.store.Append(ctx, event); err != nil {
			w.logger.ErrorContext(ctx, "failed to append audit event",
				"error", err,
				"run_id", event.RunID.String(),
				"kind", string(event.Kind),
			)
		}
	}
}
