// Package sink defines output backends for preview session events.
package sink

import (
	"context"

	"github.com/hazyhaar/livepreview/preview/event"
)

// Sink receives session events. Implementations deliver them to different
// backends (stdout, webhook, journal, websocket subscribers, in-process
// callback).
type Sink interface {
	Emit(ctx context.Context, ev event.Event) error
	Close() error
}

// envelope wraps every serialised payload so consumers can multiplex one
// stream.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
