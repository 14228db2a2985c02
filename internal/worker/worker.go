package worker

import (
	"context"
	"log/slog"
	"sync"

	"CryptoBotListener/internal/services"
)

type Handler interface {
	HandleMessage(ctx context.Context, msg services.Message) (services.Outcome, error)
}

// Source pushes inbound chat messages to out until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- services.Message) error
}

type Worker struct {
	Handler Handler
	Sources []Source
	// Outbox is nil unless webhook delivery goes through the outbox table.
	Outbox *OutboxDelivery
}

// Run starts every source and the outbox loop, and feeds messages to the handler
// one at a time. It returns once ctx is done and all goroutines have stopped.
func (w *Worker) Run(ctx context.Context) {
	log := slog.Default()
	msgs := make(chan services.Message)

	var wg sync.WaitGroup
	for _, src := range w.Sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			log.InfoContext(ctx, "source started", "source", src.Name())
			if err := src.Run(ctx, msgs); err != nil && ctx.Err() == nil {
				log.ErrorContext(ctx, "source stopped", "source", src.Name(), "error", err)
			}
		}(src)
	}
	if w.Outbox != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Outbox.Run(ctx)
		}()
	}

	if len(w.Sources) == 0 && w.Outbox == nil {
		log.WarnContext(ctx, "worker has nothing to run")
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case msg := <-msgs:
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg services.Message) {
	outcome, err := w.Handler.HandleMessage(ctx, msg)
	if err != nil {
		// Already logged with full context; the next message still gets processed.
		return
	}
	slog.Default().DebugContext(ctx, "message handled", "outcome", string(outcome))
}
