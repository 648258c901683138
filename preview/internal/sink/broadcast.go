package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/livepreview/preview/event"
)

// Broadcast hands events to live subscribers, typically websocket clients.
// A subscriber that does not keep up loses events rather than stalling the
// session that emits them.
type Broadcast struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

type subscriber struct {
	session string // "" receives every session
	ch      chan event.Event
}

// NewBroadcast creates a Broadcast whose subscribers buffer up to buffer
// events (default 64).
func NewBroadcast(buffer int, logger *slog.Logger) *Broadcast {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcast{subs: make(map[*subscriber]struct{}), buffer: buffer, logger: logger}
}

// Subscribe registers a subscriber for one session, or for all sessions when
// session is empty. The channel is closed by cancel or by Close.
func (b *Broadcast) Subscribe(session string) (<-chan event.Event, func()) {
	s := &subscriber{session: session, ch: make(chan event.Event, b.buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcast) Emit(_ context.Context, ev event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.session != "" && s.session != ev.SessionID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn("sink: subscriber lagging, event dropped",
				"session", ev.SessionID, "stage", ev.Stage, "version", ev.Version)
		}
	}
	return nil
}

func (b *Broadcast) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}
