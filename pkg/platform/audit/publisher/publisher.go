package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	audit "github.com/drewstone/edgeware-watcher/pkg/platform/audit"
	"github.com/drewstone/edgeware-watcher/pkg/platform/audit/worker"
)

// Publisher records audit events. By default each Emit writes through to the
// store. WithAsyncBuffer hands events to a background worker instead.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time

	bufferSize int
	inbox      chan audit.Event
	mu         sync.RWMutex
	closed     bool
	done       chan struct{}
}

type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous writes through a buffer of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.bufferSize = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(p.store, p.inbox, worker.WithLogger(p.logger))
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit records event, stamping it with the current time when unset. When the
// async buffer is full the event is written synchronously rather than dropped.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	if p.inbox != nil {
		p.mu.RLock()
		if !p.closed {
			select {
			case p.inbox <- event:
				p.mu.RUnlock()
				return nil
			default:
				p.logger.WarnContext(ctx, "audit buffer full, writing synchronously",
					"run_id", event.RunID.String(),
				)
			}
		}
		p.mu.RUnlock()
	}

	return p.store.Append(ctx, event)
}

// List returns the events recorded for one run.
func (p *Publisher) List(ctx context.Context, runID id.RunID) ([]audit.Event, error) {
	return p.store.ListByRun(ctx, runID)
}

// Close stops accepting async events and waits for the buffer to drain.
func (p *Publisher) Close() {
	if p.inbox == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.inbox)
	p.mu.Unlock()
	<-p.done
}
