// Package sandbox executes compiled preview artifacts.
//
// Every Handle owns a fresh goja runtime driven by a single goroutine. The
// renderer inside it evaluates the component tree to an x/net/html document;
// exceptions, Go panics and runaway renders are converted to diagnostics and
// an error surface, never propagated to the caller. An optional Surface (a
// browser page) presents the document for pixel capture and hit testing.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/livepreview/idgen"
	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/preview/internal/compile"
	"github.com/hazyhaar/livepreview/preview/internal/stubs"
)

var (
	ErrClosed      = errors.New("sandbox: executor closed")
	ErrDisposed    = errors.New("sandbox: handle disposed")
	ErrNoSurface   = errors.New("sandbox: no browser surface attached")
	ErrUnknownNode = errors.New("sandbox: unknown node")
	ErrNotRendered = errors.New("sandbox: handle is not rendered")
)

// Viewport is the surface size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Surface presents rendered documents in a real browser page.
type Surface interface {
	Present(ctx context.Context, html []byte) error
	Screenshot(ctx context.Context) ([]byte, error)
	ElementAt(ctx context.Context, p event.Point) (event.ElementInfo, error)
	Close() error
}

// SurfaceProvider opens one Surface per handle.
type SurfaceProvider interface {
	OpenSurface(ctx context.Context, vp Viewport) (Surface, error)
}

// Options configures an Executor.
type Options struct {
	MaxPasses    int           // re-render passes per settle; default 25
	RenderBudget time.Duration // interrupt guard per pass; default 2s
	Viewport     Viewport      // default 1280x800
	Stylesheet   string        // inlined into every document
	Surfaces     SurfaceProvider
	NewID        idgen.Generator
	Logger       *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxPasses <= 0 {
		o.MaxPasses = 25
	}
	if o.RenderBudget <= 0 {
		o.RenderBudget = 2 * time.Second
	}
	if o.Viewport.Width <= 0 {
		o.Viewport.Width = 1280
	}
	if o.Viewport.Height <= 0 {
		o.Viewport.Height = 800
	}
	if o.NewID == nil {
		o.NewID = idgen.Prefixed("hdl_", idgen.Default)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// MountOptions carries per-mount parameters.
type MountOptions struct {
	Version int64
}

// Executor mounts artifacts into handles and tracks the live ones.
type Executor struct {
	opts   Options
	policy *bluemonday.Policy // shared by every realm; safe for concurrent use

	mu     sync.Mutex
	live   map[*Handle]struct{}
	closed bool
}

// New creates an Executor.
func New(opts Options) *Executor {
	opts.defaults()
	policy := bluemonday.UGCPolicy()
	policy.AllowStyling()
	return &Executor{opts: opts, policy: policy, live: make(map[*Handle]struct{})}
}

// Viewport returns the configured surface size.
func (x *Executor) Viewport() Viewport { return x.opts.Viewport }

// Mount executes art in a fresh realm and returns its handle. Render failures
// are reported on the handle (state Error plus diagnostics); the returned
// error is reserved for infrastructure problems such as a failing surface or
// a cancelled context.
func (x *Executor) Mount(ctx context.Context, art *compile.Artifact, reg *stubs.Registry, opts MountOptions) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sandbox: mount: %w", err)
	}
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil, ErrClosed
	}
	h := newHandle(x, opts.Version)
	x.live[h] = struct{}{}
	x.mu.Unlock()

	go h.loop()

	start := time.Now()
	var mountErr error
	if err := h.do(ctx, func() { mountErr = h.mount(ctx, art, reg) }); err != nil {
		h.Dispose()
		return nil, fmt.Errorf("sandbox: mount: %w", err)
	}
	if mountErr != nil {
		h.Dispose()
		return nil, mountErr
	}
	x.opts.Logger.Debug("sandbox: mounted",
		"handle", h.id, "version", opts.Version, "state", h.State(), "duration", time.Since(start))
	return h, nil
}

// Live returns the number of undisposed handles.
func (x *Executor) Live() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.live)
}

// Close disposes every live handle and rejects further mounts.
func (x *Executor) Close() error {
	x.mu.Lock()
	x.closed = true
	handles := make([]*Handle, 0, len(x.live))
	for h := range x.live {
		handles = append(handles, h)
	}
	x.mu.Unlock()

	for _, h := range handles {
		h.Dispose()
	}
	return nil
}

func (x *Executor) forget(h *Handle) {
	x.mu.Lock()
	delete(x.live, h)
	x.mu.Unlock()
}
