package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/preview/internal/compile"
	"github.com/hazyhaar/livepreview/preview/internal/stubs"
)

// State is the lifecycle position of a Handle.
type State int32

const (
	StateUnmounted State = iota
	StateMounting
	StateRendered
	StateError
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounting:
		return "mounting"
	case StateRendered:
		return "rendered"
	case StateError:
		return "error"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Handle is one mounted version. All realm work runs on the handle's own
// goroutine; methods are safe for concurrent use.
type Handle struct {
	id      string
	version int64
	x       *Executor
	logger  *slog.Logger

	jobs    chan func()
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// owned by the actor goroutine
	r       *renderer
	surface Surface

	mu    sync.RWMutex
	state State
	diags diag.List
	html  []byte
	hash  string
}

func newHandle(x *Executor, version int64) *Handle {
	id := x.opts.NewID()
	return &Handle{
		id:      id,
		version: version,
		x:       x,
		logger:  x.opts.Logger.With("handle", id, "version", version),
		jobs:    make(chan func()),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (h *Handle) ID() string     { return h.id }
func (h *Handle) Version() int64 { return h.version }

// Done is closed once the handle is disposed.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Diagnostics returns every diagnostic reported for this version so far.
func (h *Handle) Diagnostics() diag.List {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append(diag.List(nil), h.diags...)
}

// HTML returns the current document: the rendered preview or the error surface.
func (h *Handle) HTML() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.html
}

func (h *Handle) loop() {
	defer close(h.stopped)
	for {
		select {
		case job := <-h.jobs:
			job()
		case <-h.done:
			h.teardown()
			return
		}
	}
}

// do runs fn on the handle's goroutine and waits for it.
func (h *Handle) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		defer h.recoverJob()
		fn()
	}
	select {
	case h.jobs <- job:
	case <-h.done:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// recoverJob turns a panic escaping the renderer into a runtime failure.
func (h *Handle) recoverJob() {
	p := recover()
	if p == nil {
		return
	}
	h.logger.Error("sandbox: panic in handle", "panic", p, "stack", string(debug.Stack()))
	h.publish(diag.Merge(h.Diagnostics(), diag.List{{
		Kind:    diag.RuntimeFailure,
		Stage:   diag.StageRender,
		Message: fmt.Sprintf("internal error: %v", p),
	}}))
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	if h.state != StateDisposed {
		h.state = s
	}
	h.mu.Unlock()
}

// publish records the outcome of a settle: the rendered document, or the
// error surface when diags carry a fatal diagnostic.
func (h *Handle) publish(diags diag.List) {
	state := StateRendered
	var doc []byte
	if diags.HasFatal() || h.r == nil || h.r.last == nil {
		state = StateError
		doc = errorDocument(diags, h.x.opts.Stylesheet)
	} else {
		doc = renderDocument(h.r.last.root, h.x.opts.Stylesheet)
	}
	h.mu.Lock()
	if h.state != StateDisposed {
		h.state = state
	}
	h.diags = diags
	h.html = doc
	h.hash = event.HashHTML(doc)
	h.mu.Unlock()
}

func (h *Handle) mount(ctx context.Context, art *compile.Artifact, reg *stubs.Registry) error {
	h.setState(StateMounting)
	if art.Runnable() {
		h.r = newRenderer(h.x, reg, h.logger)
		h.publish(h.r.mount(art))
	} else {
		diags := art.Diagnostics
		if !diags.HasFatal() {
			diags = append(diags, diag.Diagnostic{
				Kind: diag.CompileFailure, Stage: diag.StageCompile, Message: "artifact has no program",
			})
		}
		h.publish(diags)
	}
	return h.present(ctx)
}

// present shows the current document on the surface, opening it on first use.
func (h *Handle) present(ctx context.Context) error {
	sp := h.x.opts.Surfaces
	if sp == nil {
		return nil
	}
	if h.surface == nil {
		s, err := sp.OpenSurface(ctx, h.x.opts.Viewport)
		if err != nil {
			return fmt.Errorf("sandbox: open surface: %w", err)
		}
		h.surface = s
	}
	if err := h.surface.Present(ctx, h.HTML()); err != nil {
		return fmt.Errorf("sandbox: present: %w", err)
	}
	return nil
}

// Capture snapshots the current document, with a PNG when a surface is
// attached.
func (h *Handle) Capture(ctx context.Context) (event.Snapshot, error) {
	var snap event.Snapshot
	var cerr error
	err := h.do(ctx, func() {
		h.mu.RLock()
		snap = event.Snapshot{
			Version:  h.version,
			HTML:     h.html,
			HTMLHash: h.hash,
			Failed:   h.state == StateError,
		}
		h.mu.RUnlock()
		snap.Timestamp = time.Now().UnixMilli()
		if h.surface == nil {
			return
		}
		png, err := h.surface.Screenshot(ctx)
		if err != nil {
			cerr = fmt.Errorf("sandbox: screenshot: %w", err)
			return
		}
		snap.PNG = png
	})
	if err != nil {
		return event.Snapshot{}, fmt.Errorf("sandbox: capture: %w", err)
	}
	return snap, cerr
}

// Inspect describes the element under a viewport coordinate.
func (h *Handle) Inspect(ctx context.Context, p event.Point) (event.ElementInfo, error) {
	if h.x.opts.Surfaces == nil {
		return event.ElementInfo{}, ErrNoSurface
	}
	var info event.ElementInfo
	var ierr error
	err := h.do(ctx, func() {
		if h.surface == nil {
			ierr = ErrNoSurface
			return
		}
		info, ierr = h.surface.ElementAt(ctx, p)
	})
	if err != nil {
		return event.ElementInfo{}, fmt.Errorf("sandbox: inspect: %w", err)
	}
	return info, ierr
}

// InspectNode describes a rendered element by its node id.
func (h *Handle) InspectNode(ctx context.Context, id string) (event.ElementInfo, error) {
	var info event.ElementInfo
	var ierr error
	err := h.do(ctx, func() {
		if h.r == nil || h.r.last == nil || h.State() != StateRendered {
			ierr = fmt.Errorf("%w: %s", ErrUnknownNode, id)
			return
		}
		var ok bool
		if info, ok = h.r.last.inspect(id); !ok {
			ierr = fmt.Errorf("%w: %s", ErrUnknownNode, id)
		}
	})
	if err != nil {
		return event.ElementInfo{}, fmt.Errorf("sandbox: inspect node: %w", err)
	}
	return info, ierr
}

// Dispatch drives an interaction and re-renders. It returns the diagnostics
// the interaction produced; a runtime failure moves the handle to Error.
func (h *Handle) Dispatch(ctx context.Context, in event.Interaction) (diag.List, error) {
	var out diag.List
	var derr error
	err := h.do(ctx, func() {
		if h.State() != StateRendered || h.r == nil {
			derr = ErrNotRendered
			return
		}
		diags, err := h.r.dispatch(in)
		if err != nil {
			derr = err
			return
		}
		out = diags
		h.publish(diag.Merge(h.Diagnostics(), diags))
		if d, ok := diags.FirstFatal(); ok {
			h.logger.Info("sandbox: runtime failure", "diagnostic", d.String())
		}
		derr = h.present(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: dispatch: %w", err)
	}
	return out, derr
}

// Dispose tears the realm and surface down. It is idempotent and waits for
// the handle's goroutine to exit.
func (h *Handle) Dispose() {
	h.once.Do(func() {
		h.setState(StateDisposed)
		close(h.done)
		h.x.forget(h)
	})
	<-h.stopped
}

func (h *Handle) teardown() {
	if h.r != nil {
		h.r.dispose()
		h.r = nil
	}
	if h.surface != nil {
		if err := h.surface.Close(); err != nil {
			h.logger.Warn("sandbox: close surface", "error", err)
		}
		h.surface = nil
	}
	h.logger.Debug("sandbox: disposed")
}
