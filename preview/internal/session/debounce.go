package session

import (
	"sync"
	"time"
)

// debouncer coalesces streamed documents. It keeps only the newest one and
// flushes it once no update arrived for window, or once maxWait elapsed since
// the first buffered update, so a long stream still shows progress.
type debouncer struct {
	window  time.Duration
	maxWait time.Duration
	flush   func(Document)

	mu      sync.Mutex
	pending *Document
	first   time.Time
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window, maxWait time.Duration, flush func(Document)) *debouncer {
	return &debouncer{window: window, maxWait: maxWait, flush: flush}
}

func (d *debouncer) add(doc Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.pending != nil && doc.Version < d.pending.Version {
		return
	}
	if d.pending == nil {
		d.first = time.Now()
	}
	d.pending = &doc

	wait := d.window
	if rem := d.maxWait - time.Since(d.first); rem < wait {
		wait = max(rem, 0)
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(wait, d.fire)
}

// fire flushes the buffered document, if any, on the calling goroutine.
func (d *debouncer) fire() {
	d.mu.Lock()
	doc := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	if doc != nil {
		d.flush(*doc)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
