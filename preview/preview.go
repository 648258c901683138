// Package preview renders generated UI source into live, inspectable
// previews.
//
// An Engine owns the shared pieces (symbol catalogue, compiler, sandbox
// executor, optional Chrome surface, event sinks) and a table of sessions.
// Each Session takes successive versions of one component's source and keeps
// the newest one on screen, reporting every state change as an event.
//
// Usage:
//
//	eng, err := preview.New(preview.DefaultConfig())
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop()
//
//	s, _ := eng.OpenSession("")
//	_ = s.Submit(ctx, preview.Document{Raw: code})
//	snap, _ := s.Capture(ctx)
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/livepreview/idgen"
	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/envelope"
	"github.com/hazyhaar/livepreview/preview/internal/browser"
	"github.com/hazyhaar/livepreview/preview/internal/compile"
	"github.com/hazyhaar/livepreview/preview/internal/config"
	"github.com/hazyhaar/livepreview/preview/internal/journal"
	"github.com/hazyhaar/livepreview/preview/internal/sandbox"
	"github.com/hazyhaar/livepreview/preview/internal/session"
	"github.com/hazyhaar/livepreview/preview/internal/sink"
	"github.com/hazyhaar/livepreview/preview/internal/stubs"
	"github.com/hazyhaar/livepreview/safe"
	"github.com/hazyhaar/livepreview/shield"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSink adds an event sink next to the configured ones.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.extra = append(e.extra, s) }
}

// WithSurfaces replaces the configured browser with another surface
// provider.
func WithSurfaces(p SurfaceProvider) Option {
	return func(e *Engine) { e.surfaces = p }
}

// Engine runs preview sessions. Safe for concurrent use.
type Engine struct {
	cfg    *Config
	logger *slog.Logger

	reg      *stubs.Registry
	compiler *compile.Compiler
	exec     *sandbox.Executor
	browser  *browser.Manager // nil unless enabled
	surfaces sandbox.SurfaceProvider
	router   *sink.Router
	events   *sink.Broadcast
	journal  *journal.Journal // nil unless configured
	limiter  *shield.RateLimiter
	md       *converter.Converter
	extra    []sink.Sink
	newID    idgen.Generator

	mu       sync.Mutex
	sessions map[string]*entry
	started  bool
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	s    *session.Controller
	used time.Time
}

// New creates an Engine. A nil cfg uses DefaultConfig.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg:      cfg,
		sessions: make(map[string]*entry),
		done:     make(chan struct{}),
		newID:    idgen.Prefixed("ses_", idgen.Default),
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.reg = stubs.Build()
	e.compiler = compile.New(compile.Options{
		Budget:    cfg.Compile.Budget,
		CacheSize: cfg.Compile.CacheSize,
		Logger:    e.logger,
	})
	if e.surfaces == nil && cfg.Browser.Enabled {
		bc := cfg.Browser.Config
		bc.Logger = e.logger
		e.browser = browser.NewManager(bc)
		e.surfaces = e.browser
	}
	e.exec = sandbox.New(sandbox.Options{
		MaxPasses:    cfg.Sandbox.MaxPasses,
		RenderBudget: cfg.Sandbox.RenderBudget,
		Viewport:     cfg.Sandbox.Viewport,
		Stylesheet:   cfg.Sandbox.Stylesheet,
		Surfaces:     e.surfaces,
		Logger:       e.logger,
	})

	var configured []sink.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			configured = append(configured, sink.NewStdout(nil))
		case "webhook":
			configured = append(configured, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries), sink.WithWebhookLogger(e.logger)))
		default:
			_ = e.exec.Close()
			return nil, fmt.Errorf("preview: unknown sink type %q", sc.Type)
		}
	}

	e.events = sink.NewBroadcast(64, e.logger)
	sinks := []sink.Sink{e.events}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, e.logger)
		if err != nil {
			_ = e.exec.Close()
			return nil, fmt.Errorf("preview: %w", err)
		}
		e.journal = j
		sinks = append(sinks, j)
	}
	sinks = append(sinks, configured...)
	e.router = sink.NewRouter(e.logger, append(sinks, e.extra...)...)
	e.limiter = shield.NewRateLimiter(cfg.Server.RateLimit, time.Minute, e.logger)
	e.md = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	return e, nil
}

// Start launches the browser surface, when configured, and the background
// janitor that closes idle sessions and trims the journal.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return nil
	}
	if e.browser != nil {
		if err := e.browser.Start(ctx); err != nil {
			return fmt.Errorf("preview: start browser: %w", err)
		}
	}
	e.limiter.StartGC(e.done)
	go e.janitor()
	e.started = true
	e.logger.Info("preview: started",
		"catalogue", e.reg.Version(), "browser", e.browser != nil, "journal", e.journal != nil)
	return nil
}

// Stop closes every session and releases the executor, browser and sinks.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		sessions := make([]*session.Controller, 0, len(e.sessions))
		for _, en := range e.sessions {
			sessions = append(sessions, en.s)
		}
		e.sessions = make(map[string]*entry)
		e.mu.Unlock()
		close(e.done)

		for _, s := range sessions {
			_ = s.Close()
		}
		_ = e.exec.Close()
		if e.browser != nil {
			if berr := e.browser.Close(); berr != nil {
				err = fmt.Errorf("preview: stop browser: %w", berr)
			}
		}
		if serr := e.router.Close(); serr != nil && err == nil {
			err = fmt.Errorf("preview: close sinks: %w", serr)
		}
		e.logger.Info("preview: stopped", "sessions", len(sessions))
	})
	return err
}

func (e *Engine) janitor() {
	interval := min(e.cfg.Session.IdleTimeout/2, time.Minute)
	tick := time.NewTicker(interval)
	defer tick.Stop()
	lastCleanup := time.Now()
	for {
		select {
		case <-e.done:
			return
		case <-tick.C:
			e.closeIdle()
			if e.journal != nil && time.Since(lastCleanup) >= time.Hour {
				lastCleanup = time.Now()
				if _, err := e.journal.Cleanup(context.Background(), e.cfg.Journal.Retention); err != nil {
					e.logger.Warn("preview: journal cleanup", "error", err)
				}
			}
		}
	}
}

func (e *Engine) closeIdle() {
	cutoff := time.Now().Add(-e.cfg.Session.IdleTimeout)
	var idle []*session.Controller
	e.mu.Lock()
	for id, en := range e.sessions {
		if en.used.Before(cutoff) {
			idle = append(idle, en.s)
			delete(e.sessions, id)
		}
	}
	e.mu.Unlock()
	for _, s := range idle {
		e.logger.Info("preview: closing idle session", "session", s.ID())
		_ = s.Close()
	}
}

// OpenSession creates a session. An empty id generates one; opening an id
// that is already open returns that session.
func (e *Engine) OpenSession(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrStopped
	}
	if en, ok := e.sessions[id]; ok && id != "" {
		en.used = time.Now()
		return en.s, nil
	}
	if id != "" {
		if err := safe.ValidateIdentifier(id); err != nil {
			return nil, fmt.Errorf("preview: session id: %w", err)
		}
	}
	if len(e.sessions) >= e.cfg.Session.MaxSessions {
		return nil, ErrTooManySessions
	}
	if id == "" {
		id = e.newID()
	}
	s, err := e.newSession(id)
	if err != nil {
		return nil, err
	}
	e.sessions[id] = &entry{s: s, used: time.Now()}
	go e.watch(s)
	e.logger.Info("preview: session opened", "session", id, "open", len(e.sessions))
	return s, nil
}

func (e *Engine) newSession(id string) (*session.Controller, error) {
	s, err := session.New(session.Options{
		ID:       id,
		Registry: e.reg,
		Compiler: e.compiler,
		Executor: e.exec,
		Sink:     e.router,
		Debounce: e.cfg.Session.Debounce,
		MaxWait:  e.cfg.Session.MaxWait,
		Logger:   e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	return s, nil
}

// watch drops a session from the table once it closes on its own.
func (e *Engine) watch(s *session.Controller) {
	select {
	case <-s.Done():
	case <-e.done:
		return
	}
	e.mu.Lock()
	if en, ok := e.sessions[s.ID()]; ok && en.s == s {
		delete(e.sessions, s.ID())
	}
	e.mu.Unlock()
}

// Session returns an open session.
func (e *Engine) Session(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	en.used = time.Now()
	return en.s, nil
}

// CloseSession closes and forgets a session.
func (e *Engine) CloseSession(id string) error {
	e.mu.Lock()
	en, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return en.s.Close()
}

// Sessions reports the status of every open session, ordered by id.
func (e *Engine) Sessions() []Status {
	e.mu.Lock()
	sessions := make([]*session.Controller, 0, len(e.sessions))
	for _, en := range e.sessions {
		sessions = append(sessions, en.s)
	}
	e.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Submission is the outcome of SubmitPayload.
type Submission struct {
	SessionID   string   `json:"session_id"`
	Version     int64    `json:"version"`
	Summary     string   `json:"summary"`
	Suggestions []string `json:"suggestions,omitempty"`
	Queued      bool     `json:"queued,omitempty"`
	Status      *Status  `json:"status,omitempty"` // after the render; absent when queued
}

// SubmitPayload parses a generation payload and submits its code. With
// stream set the code is queued and debounced; otherwise SubmitPayload
// waits for the render.
func (e *Engine) SubmitPayload(ctx context.Context, id, payload string, stream bool) (*Submission, error) {
	return e.submit(ctx, id, envelope.Parse(payload), stream)
}

// SubmitCode submits code as is, without envelope parsing.
func (e *Engine) SubmitCode(ctx context.Context, id, code string, stream bool) (*Submission, error) {
	return e.submit(ctx, id, envelope.Payload{Summary: envelope.GenericSummary, Code: code}, stream)
}

func (e *Engine) submit(ctx context.Context, id string, p envelope.Payload, stream bool) (*Submission, error) {
	s, err := e.Session(id)
	if err != nil {
		return nil, err
	}
	sub := &Submission{SessionID: id, Summary: p.Summary, Suggestions: p.Suggestions}
	doc := Document{Raw: p.Code}
	if stream {
		sub.Version, err = s.Enqueue(doc)
		sub.Queued = err == nil
		return sub, err
	}
	if sub.Version, err = s.Run(ctx, doc); err != nil {
		return nil, err
	}
	st := s.Status()
	sub.Status = &st
	return sub, nil
}

// Rendered is the output of a one-shot Render.
type Rendered struct {
	Version     int64     `json:"version"`
	HTML        []byte    `json:"html"`
	PNG         []byte    `json:"png,omitempty"`
	Markdown    string    `json:"markdown"`
	Failed      bool      `json:"failed"`
	Diagnostics diag.List `json:"diagnostics,omitempty"`
}

// Render runs raw through a throwaway session and returns what it showed.
func (e *Engine) Render(ctx context.Context, raw string) (*Rendered, error) {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}

	s, err := e.newSession(idgen.Prefixed("render_", idgen.Default)())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.Submit(ctx, Document{Raw: envelope.Parse(raw).Code}); err != nil {
		return nil, fmt.Errorf("preview: render: %w", err)
	}
	snap, err := s.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("preview: render: %w", err)
	}
	md, err := e.Markdown(snap.HTML)
	if err != nil {
		return nil, err
	}
	return &Rendered{
		Version:     snap.Version,
		HTML:        snap.HTML,
		PNG:         snap.PNG,
		Markdown:    md,
		Failed:      snap.Failed,
		Diagnostics: s.Status().Diagnostics,
	}, nil
}

// Markdown converts a rendered document to markdown for text-only clients.
func (e *Engine) Markdown(page []byte) (string, error) {
	md, err := e.md.ConvertString(string(page))
	if err != nil {
		return "", fmt.Errorf("preview: markdown: %w", err)
	}
	return md, nil
}

// Catalog describes the symbols generated code may use.
type Catalog struct {
	Version  string   `json:"version"`
	Symbols  []Symbol `json:"symbols"`
	Builtins []string `json:"builtins"`
	Prompt   string   `json:"prompt"` // ready to paste into a generation prompt
}

// Catalog returns the symbol catalogue.
func (e *Engine) Catalog() Catalog {
	return Catalog{
		Version:  e.reg.Version(),
		Symbols:  e.reg.Symbols(),
		Builtins: e.reg.Builtins(),
		Prompt:   e.reg.PromptFragment(),
	}
}

// Subscribe streams the events of one session, or of all sessions when id
// is empty, until cancel is called or the engine stops.
func (e *Engine) Subscribe(id string) (<-chan Event, func()) {
	return e.events.Subscribe(id)
}

// Journal returns up to limit of the newest journaled events of a session.
func (e *Engine) Journal(ctx context.Context, id string, limit int) ([]Event, error) {
	if e.journal == nil {
		return nil, ErrNoJournal
	}
	return e.journal.Recent(ctx, id, limit)
}

// ErrNoJournal is returned by Journal when no journal path is configured.
var ErrNoJournal = errors.New("preview: journal disabled")
