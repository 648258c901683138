package sink

import (
	"context"

	"github.com/hazyhaar/livepreview/preview/event"
)

// EventFunc is called for each event, in-process and without serialisation.
type EventFunc func(ctx context.Context, ev event.Event) error

// Callback delivers events through a Go function. Embedders running the
// engine in their own binary use it instead of a transport.
type Callback struct {
	fn EventFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn EventFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Emit(ctx context.Context, ev event.Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
