// Package session drives one live preview: it runs every submitted document
// through normalize, compile and mount, swaps the finished handle in, and
// reports each state change to a sink.
//
// Ordering is by document version. A run that falls behind a newer
// submission stops at the next checkpoint; a run that already reached the
// executor finishes, and its stale handle is disposed instead of shown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hazyhaar/livepreview/idgen"
	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/preview/internal/compile"
	"github.com/hazyhaar/livepreview/preview/internal/normalize"
	"github.com/hazyhaar/livepreview/preview/internal/sandbox"
	"github.com/hazyhaar/livepreview/preview/internal/sink"
	"github.com/hazyhaar/livepreview/preview/internal/stubs"
)

var (
	ErrClosed     = errors.New("session: closed")
	ErrSuperseded = errors.New("session: superseded by a newer version")
	ErrNoPreview  = errors.New("session: nothing mounted yet")
)

// Document is one submission of generated source.
type Document struct {
	Raw        string    `json:"raw"`
	Version    int64     `json:"version"` // 0 assigns the next version
	ReceivedAt time.Time `json:"received_at"`
}

// ErrorState says why the shown version is an error surface.
type ErrorState string

const (
	ErrorNone    ErrorState = "none"
	ErrorCompile ErrorState = "compile"
	ErrorRuntime ErrorState = "runtime"
)

// Checkpoint marks a pipeline step, reported to Options.OnCheckpoint.
type Checkpoint string

const (
	CheckpointNormalized Checkpoint = "normalized"
	CheckpointCompiled   Checkpoint = "compiled"
	CheckpointMounted    Checkpoint = "mounted"
)

// Options configures a Controller. Registry, Compiler and Executor are
// required.
type Options struct {
	ID       string // default: generated "ses_" id
	Registry *stubs.Registry
	Compiler *compile.Compiler
	Executor *sandbox.Executor
	Sink     sink.Sink
	Debounce time.Duration // Enqueue quiet window; default 150ms
	MaxWait  time.Duration // Enqueue flush deadline; default 1s
	NewID    idgen.Generator
	Logger   *slog.Logger

	// OnCheckpoint is called on the submitting goroutine after each step.
	OnCheckpoint func(version int64, cp Checkpoint)
}

// Status is a point-in-time view of the session.
type Status struct {
	ID          string      `json:"id"`
	Stage       event.Stage `json:"stage,omitempty"`
	Version     int64       `json:"version"` // version on screen
	Latest      int64       `json:"latest"`  // newest accepted version
	Pending     int64       `json:"pending,omitempty"`
	Generation  uint64      `json:"generation"`
	ErrorState  ErrorState  `json:"error_state"`
	Diagnostics diag.List   `json:"diagnostics,omitempty"`
	Breaker     string      `json:"breaker"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Controller owns the active handle of one session. Safe for concurrent use.
type Controller struct {
	id      string
	opts    Options
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
	deb     *debouncer
	done    chan struct{}

	// swap serialises handle replacement so events leave in version order
	swap sync.Mutex

	mu       sync.Mutex
	latest   int64
	pending  int64
	active   *sandbox.Handle
	last     *Document
	gen      uint64
	diags    diag.List
	errState ErrorState
	updated  time.Time
	closed   bool
}

// New creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Registry == nil || opts.Compiler == nil || opts.Executor == nil {
		return nil, fmt.Errorf("session: new: registry, compiler and executor are required")
	}
	if opts.NewID == nil {
		opts.NewID = idgen.Prefixed("evt_", idgen.Default)
	}
	if opts.ID == "" {
		opts.ID = idgen.Prefixed("ses_", idgen.Default)()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 150 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		id:       opts.ID,
		opts:     opts,
		logger:   opts.Logger.With("session", opts.ID),
		done:     make(chan struct{}),
		errState: ErrorNone,
		updated:  time.Now(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "session " + opts.ID,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("session: breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	c.deb = newDebouncer(opts.Debounce, opts.MaxWait, c.flush)
	return c, nil
}

func (c *Controller) ID() string { return c.id }

// Done is closed once the session is closed, by Close or by the breaker.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Submit runs doc through the pipeline and shows the result, unless a newer
// version was accepted in the meantime (ErrSuperseded). Render failures are
// not errors: they are shown as an error surface and reported as events.
func (c *Controller) Submit(ctx context.Context, doc Document) error {
	_, err := c.Run(ctx, doc)
	return err
}

// Run is Submit, also returning the version doc was accepted under (0 when
// it was rejected outright).
func (c *Controller) Run(ctx context.Context, doc Document) (int64, error) {
	if err := c.accept(&doc); err != nil {
		return 0, err
	}
	return doc.Version, c.run(ctx, doc)
}

// Enqueue accepts doc and submits it once the stream goes quiet. It returns
// the version assigned to doc.
func (c *Controller) Enqueue(doc Document) (int64, error) {
	if err := c.accept(&doc); err != nil {
		return 0, err
	}
	c.deb.add(doc)
	return doc.Version, nil
}

// Flush submits the document buffered by Enqueue now, on the calling
// goroutine.
func (c *Controller) Flush() { c.deb.fire() }

func (c *Controller) flush(doc Document) {
	err := c.run(context.Background(), doc)
	if err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed) {
		c.logger.Warn("session: queued submit failed", "version", doc.Version, "error", err)
	}
}

// Reset clears the error state and runs the last document again under a new
// version.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.last == nil {
		c.mu.Unlock()
		return ErrNoPreview
	}
	doc := Document{Raw: c.last.Raw}
	c.errState = ErrorNone
	c.mu.Unlock()

	c.logger.Info("session: reset")
	return c.Submit(ctx, doc)
}

func (c *Controller) accept(doc *Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if doc.Version == 0 {
		doc.Version = c.latest + 1
	}
	if doc.Version <= c.latest {
		return fmt.Errorf("%w: version %d, latest %d", ErrSuperseded, doc.Version, c.latest)
	}
	if doc.ReceivedAt.IsZero() {
		doc.ReceivedAt = time.Now()
	}
	c.latest = doc.Version
	last := *doc
	c.last = &last
	return nil
}

func (c *Controller) run(ctx context.Context, doc Document) error {
	start := time.Now()
	c.mu.Lock()
	if doc.Version > c.pending {
		c.pending = doc.Version
	}
	c.mu.Unlock()
	defer c.settlePending(doc.Version)

	c.emit(ctx, event.StageMounting, doc.Version, "", nil)

	norm := normalize.Normalize(doc.Raw)
	c.checkpoint(doc.Version, CheckpointNormalized)
	if err := c.current(ctx, doc.Version); err != nil {
		return err
	}

	pre := norm.Diagnostics
	var art *compile.Artifact
	if norm.Fatal() {
		// the handle reports these itself
		art = &compile.Artifact{Diagnostics: norm.Diagnostics}
		pre = nil
	} else {
		art = c.opts.Compiler.Compile(norm.Source, c.opts.Registry)
	}
	c.checkpoint(doc.Version, CheckpointCompiled)
	if err := c.current(ctx, doc.Version); err != nil {
		return err
	}

	h, err := c.mount(ctx, art, doc.Version)
	if err != nil {
		return err
	}
	c.checkpoint(doc.Version, CheckpointMounted)
	return c.replace(ctx, h, pre, start)
}

func (c *Controller) checkpoint(version int64, cp Checkpoint) {
	if c.opts.OnCheckpoint != nil {
		c.opts.OnCheckpoint(version, cp)
	}
}

// current fails when version should no longer be processed.
func (c *Controller) current(ctx context.Context, version int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session: submit: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if version < c.latest {
		c.logger.Debug("session: dropped stale version", "version", version, "latest", c.latest)
		return fmt.Errorf("%w: version %d, latest %d", ErrSuperseded, version, c.latest)
	}
	return nil
}

func (c *Controller) settlePending(version int64) {
	c.mu.Lock()
	if c.pending == version {
		c.pending = 0
	}
	c.mu.Unlock()
}

// mount runs the executor through the breaker. Only infrastructure errors
// reach it; after two in a row the session closes.
func (c *Controller) mount(ctx context.Context, art *compile.Artifact, version int64) (*sandbox.Handle, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.opts.Executor.Mount(ctx, art, c.opts.Registry, sandbox.MountOptions{Version: version})
	})
	if err == nil {
		return res.(*sandbox.Handle), nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("session: mount: %w", err)
	}

	c.logger.Error("session: mount failed", "version", version, "error", err)
	c.emit(ctx, event.StageError, version, "", diag.List{{
		Kind:    diag.MountFailure,
		Stage:   diag.StageMount,
		Message: "preview infrastructure failed: " + err.Error(),
	}})
	if c.breaker.State() == gobreaker.StateOpen {
		c.logger.Error("session: closing after repeated infrastructure failures")
		_ = c.Close()
		return nil, fmt.Errorf("session: mount: %w: %w", ErrClosed, err)
	}
	return nil, fmt.Errorf("session: mount: %w", err)
}

// replace swaps h in as the active handle and disposes the one it replaces.
// The old handle stays on screen until the new one is fully mounted.
func (c *Controller) replace(ctx context.Context, h *sandbox.Handle, pre diag.List, start time.Time) error {
	c.swap.Lock()
	defer c.swap.Unlock()

	version := h.Version()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.Dispose()
		return ErrClosed
	}
	if version < c.latest {
		latest := c.latest
		c.mu.Unlock()
		h.Dispose()
		c.logger.Debug("session: disposed stale handle", "version", version, "latest", latest)
		return fmt.Errorf("%w: version %d, latest %d", ErrSuperseded, version, latest)
	}
	old := c.active
	c.mu.Unlock()

	state := h.State()
	// An error surface replaces the old handle without a transition.
	transition := old != nil && state != sandbox.StateError
	if transition {
		c.emit(ctx, event.StageTransitioning, version, event.TransitionStart, nil)
	}

	diags := diag.Merge(pre, h.Diagnostics())
	c.mu.Lock()
	c.active = h
	c.gen++
	c.diags = diags
	c.errState = errorState(state, diags)
	c.updated = time.Now()
	c.mu.Unlock()

	if old != nil {
		old.Dispose()
	}
	if transition {
		c.emit(ctx, event.StageTransitioning, version, event.TransitionEnd, nil)
	}

	stage := event.StageRendered
	if state == sandbox.StateError {
		stage = event.StageError
	}
	c.emit(ctx, stage, version, "", diags)
	c.logger.Info("session: mounted",
		"version", version, "state", state.String(), "diagnostics", len(diags), "duration", time.Since(start))
	return nil
}

func errorState(s sandbox.State, diags diag.List) ErrorState {
	if s != sandbox.StateError {
		return ErrorNone
	}
	if d, ok := diags.FirstFatal(); ok && d.Kind == diag.CompileFailure {
		return ErrorCompile
	}
	return ErrorRuntime
}

func (c *Controller) emit(ctx context.Context, stage event.Stage, version int64, transition string, diags diag.List) {
	if c.opts.Sink == nil {
		return
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	ev := event.Event{
		ID:          c.opts.NewID(),
		SessionID:   c.id,
		Stage:       stage,
		Version:     version,
		Generation:  gen,
		Transition:  transition,
		Diagnostics: diags,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := c.opts.Sink.Emit(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("session: emit failed", "stage", stage, "version", version, "error", err)
	}
}

// withActive calls fn with the active handle. A handle swapped out while fn
// ran is retried once against its replacement.
func (c *Controller) withActive(fn func(h *sandbox.Handle) error) error {
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		h := c.active
		c.mu.Unlock()
		if h == nil {
			return ErrNoPreview
		}
		err := fn(h)
		if attempt == 0 && errors.Is(err, sandbox.ErrDisposed) {
			continue
		}
		return err
	}
}

// Current returns the document on screen and its version without going
// through the handle's goroutine.
func (c *Controller) Current() ([]byte, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, ErrClosed
	}
	if c.active == nil {
		return nil, 0, ErrNoPreview
	}
	return c.active.HTML(), c.active.Version(), nil
}

// Capture snapshots the active version.
func (c *Controller) Capture(ctx context.Context) (event.Snapshot, error) {
	var snap event.Snapshot
	err := c.withActive(func(h *sandbox.Handle) error {
		var err error
		snap, err = h.Capture(ctx)
		return err
	})
	return snap, err
}

// Inspect describes the element under p in the active version.
func (c *Controller) Inspect(ctx context.Context, p event.Point) (event.ElementInfo, error) {
	var info event.ElementInfo
	err := c.withActive(func(h *sandbox.Handle) error {
		var err error
		info, err = h.Inspect(ctx, p)
		return err
	})
	return info, err
}

// InspectNode describes a rendered element of the active version by node id.
func (c *Controller) InspectNode(ctx context.Context, id string) (event.ElementInfo, error) {
	var info event.ElementInfo
	err := c.withActive(func(h *sandbox.Handle) error {
		var err error
		info, err = h.InspectNode(ctx, id)
		return err
	})
	return info, err
}

// Dispatch drives an interaction into the active version. A handler failure
// moves the session to the runtime error state.
func (c *Controller) Dispatch(ctx context.Context, in event.Interaction) (diag.List, error) {
	var out diag.List
	var target *sandbox.Handle
	err := c.withActive(func(h *sandbox.Handle) error {
		var err error
		target = h
		out, err = h.Dispatch(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.swap.Lock()
	defer c.swap.Unlock()
	c.mu.Lock()
	if c.active != target {
		c.mu.Unlock()
		return out, nil
	}
	diags := target.Diagnostics()
	state := target.State()
	c.diags = diags
	c.errState = errorState(state, diags)
	c.updated = time.Now()
	c.mu.Unlock()

	stage := event.StageRendered
	if state == sandbox.StateError {
		stage = event.StageError
		c.logger.Info("session: runtime failure", "version", target.Version(), "type", in.Type)
	}
	c.emit(ctx, stage, target.Version(), "", out)
	return out, nil
}

// Status reports the session state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		ID:          c.id,
		Latest:      c.latest,
		Pending:     c.pending,
		Generation:  c.gen,
		ErrorState:  c.errState,
		Diagnostics: append(diag.List(nil), c.diags...),
		Breaker:     c.breaker.State().String(),
		UpdatedAt:   c.updated,
	}
	switch {
	case c.closed:
		st.Stage = event.StageDisposed
	case c.active != nil:
		st.Version = c.active.Version()
		st.Stage = event.StageRendered
		if c.active.State() == sandbox.StateError {
			st.Stage = event.StageError
		}
	case c.pending > 0:
		st.Stage = event.StageMounting
	}
	return st
}

// Close disposes the active handle and rejects further submissions. Runs in
// flight finish and dispose their own handles. Close is idempotent.
func (c *Controller) Close() error {
	c.deb.stop()
	c.swap.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.swap.Unlock()
		return nil
	}
	c.closed = true
	h := c.active
	c.active = nil
	c.updated = time.Now()
	c.mu.Unlock()

	var version int64
	if h != nil {
		version = h.Version()
		h.Dispose()
	}
	c.swap.Unlock()

	c.emit(context.Background(), event.StageDisposed, version, "", nil)
	close(c.done)
	c.logger.Info("session: closed", "version", version)
	return nil
}
