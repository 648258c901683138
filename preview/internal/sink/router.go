package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/livepreview/preview/event"
)

// Router fans events out to every attached sink. One sink error does not
// block the others; errors are logged and the first one is returned.
type Router struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add attaches more sinks. Events already emitted are not replayed.
func (r *Router) Add(sinks ...Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, sinks...)
	r.mu.Unlock()
}

func (r *Router) Emit(ctx context.Context, ev event.Event) error {
	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Emit(ctx, ev); err != nil {
			r.logger.Warn("sink: emit failed",
				"session", ev.SessionID, "stage", ev.Stage, "version", ev.Version, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = nil
	r.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
