package preview

import (
	"errors"

	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/preview/internal/sandbox"
	"github.com/hazyhaar/livepreview/preview/internal/session"
	"github.com/hazyhaar/livepreview/preview/internal/stubs"
)

// Session is one live preview. See OpenSession.
type Session = session.Controller

// Document is one submission of generated source.
type Document = session.Document

// Status is a point-in-time view of a session.
type Status = session.Status

// ErrorState says why the shown version is an error surface.
type ErrorState = session.ErrorState

const (
	ErrorNone    = session.ErrorNone
	ErrorCompile = session.ErrorCompile
	ErrorRuntime = session.ErrorRuntime
)

// Event is one state change of a session.
type Event = event.Event

type (
	Snapshot    = event.Snapshot
	Point       = event.Point
	ElementInfo = event.ElementInfo
	Interaction = event.Interaction
)

// Viewport is the browser surface size in CSS pixels.
type Viewport = sandbox.Viewport

// Surface presents rendered documents in a real browser page.
type Surface = sandbox.Surface

// SurfaceProvider opens one Surface per mounted version.
type SurfaceProvider = sandbox.SurfaceProvider

// Symbol is one catalogue entry available to generated code.
type Symbol = stubs.Symbol

var (
	ErrClosed      = session.ErrClosed
	ErrSuperseded  = session.ErrSuperseded
	ErrNoPreview   = session.ErrNoPreview
	ErrNoSurface   = sandbox.ErrNoSurface
	ErrDisposed    = sandbox.ErrDisposed
	ErrNotRendered = sandbox.ErrNotRendered
	ErrUnknownNode = sandbox.ErrUnknownNode

	ErrUnknownSession  = errors.New("preview: unknown session")
	ErrTooManySessions = errors.New("preview: session limit reached")
	ErrStopped         = errors.New("preview: engine stopped")
)
