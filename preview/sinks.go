package preview

import (
	"io"
	"log/slog"

	"github.com/hazyhaar/livepreview/preview/internal/sink"
)

// Sink is the output interface for session events.
type Sink = sink.Sink

// EventFunc is called for each event.
type EventFunc = sink.EventFunc

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn EventFunc) Sink {
	return sink.NewCallback(fn)
}
