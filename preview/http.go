package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/livepreview/kit"
	"github.com/hazyhaar/livepreview/safe"
	"github.com/hazyhaar/livepreview/shield"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod
)

// Handler returns the HTTP API.
//
//	GET    /healthz
//	GET    /catalog
//	GET    /sessions
//	POST   /sessions                      {"id": "..."} optional
//	GET    /sessions/{id}                 status
//	DELETE /sessions/{id}
//	POST   /sessions/{id}/documents       raw payload, or {"payload"|"code", "stream"}
//	POST   /sessions/{id}/reset
//	GET    /sessions/{id}/snapshot        the rendered document
//	GET    /sessions/{id}/snapshot.md
//	GET    /sessions/{id}/capture.png
//	GET    /sessions/{id}/inspect         ?x=&y= or ?node=
//	POST   /sessions/{id}/dispatch        Interaction
//	GET    /sessions/{id}/events          websocket
//	GET    /sessions/{id}/journal         ?limit=
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(e.logger, e.cfg.Server.MaxBody) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": len(e.Sessions()),
			"browser":  e.surfaces != nil,
		})
	})
	r.Get("/catalog", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, e.Catalog())
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, e.Sessions())
		})
		r.Post("/", e.handleOpen)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(e.withSession)
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, sessionFrom(r).Status())
			})
			r.Delete("/", e.handleClose)
			r.With(e.limiter.Middleware).Post("/documents", e.handleSubmit)
			r.Post("/reset", e.handleReset)
			r.Get("/snapshot", e.handleSnapshot)
			r.Get("/snapshot.md", e.handleMarkdown)
			r.Get("/capture.png", e.handleCapture)
			r.Get("/inspect", e.handleInspect)
			r.Post("/dispatch", e.handleDispatch)
			r.Get("/events", e.handleEvents)
			r.Get("/journal", e.handleJournal)
		})
	})
	return r
}

type sessionKey struct{}

// withSession resolves {id} to an open session or answers 404.
func (e *Engine) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s, err := e.Session(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := kit.WithSessionID(r.Context(), id)
		ctx = context.WithValue(ctx, sessionKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *Session {
	return r.Context().Value(sessionKey{}).(*Session)
}

func (e *Engine) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, badRequest(err))
			return
		}
	}
	s, err := e.OpenSession(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Status())
}

func (e *Engine) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := e.CloseSession(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	Payload string `json:"payload"`
	Code    string `json:"code"` // taken as is, without envelope parsing
	Stream  bool   `json:"stream"`
}

func (e *Engine) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		req.Payload = string(body)
		req.Stream, _ = strconv.ParseBool(r.URL.Query().Get("stream"))
	}

	id := chi.URLParam(r, "id")
	var (
		sub *Submission
		err error
	)
	if req.Code != "" {
		sub, err = e.SubmitCode(r.Context(), id, req.Code, req.Stream)
	} else {
		sub, err = e.SubmitPayload(r.Context(), id, req.Payload, req.Stream)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if sub.Queued {
		code = http.StatusAccepted
	}
	writeJSON(w, code, sub)
}

func (e *Engine) handleReset(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if err := s.Reset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (e *Engine) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	page, version, err := sessionFrom(r).Current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	shield.PreviewHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Preview-Version", strconv.FormatInt(version, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

func (e *Engine) handleMarkdown(w http.ResponseWriter, r *http.Request) {
	page, version, err := sessionFrom(r).Current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	md, err := e.Markdown(page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("X-Preview-Version", strconv.FormatInt(version, 10))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, md)
}

func (e *Engine) handleCapture(w http.ResponseWriter, r *http.Request) {
	snap, err := sessionFrom(r).Capture(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(snap.PNG) == 0 {
		writeError(w, r, ErrNoSurface)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Preview-Version", strconv.FormatInt(snap.Version, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(snap.PNG)
}

func (e *Engine) handleInspect(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	q := r.URL.Query()
	var (
		info ElementInfo
		err  error
	)
	if node := q.Get("node"); node != "" {
		info, err = s.InspectNode(r.Context(), node)
	} else {
		var p Point
		p, err = parsePoint(q)
		if err == nil {
			info, err = s.Inspect(r.Context(), p)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func parsePoint(q url.Values) (Point, error) {
	x, err := strconv.ParseFloat(q.Get("x"), 64)
	if err != nil {
		return Point{}, badRequest(fmt.Errorf("x: %w", err))
	}
	y, err := strconv.ParseFloat(q.Get("y"), 64)
	if err != nil {
		return Point{}, badRequest(fmt.Errorf("y: %w", err))
	}
	return Point{X: x, Y: y}, nil
}

func (e *Engine) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var in Interaction
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, badRequest(err))
		return
	}
	if in.NodeID == "" || in.Type == "" {
		writeError(w, r, badRequest(errors.New("node_id and type are required")))
		return
	}
	s := sessionFrom(r)
	diags, err := s.Dispatch(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"diagnostics": diags,
		"status":      s.Status(),
	})
}

func (e *Engine) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 1000)
	}
	events, err := e.Journal(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleEvents streams the session's events over a websocket. The first
// message is the current status.
func (e *Engine) handleEvents(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	up := websocket.Upgrader{CheckOrigin: e.checkOrigin}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		shield.GetLogger(r.Context()).Debug("preview: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := e.Subscribe(s.ID())
	defer cancel()

	// The read side only tracks liveness and the client's close.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(typ string, data any) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(wsMessage{Type: typ, Data: data})
	}
	if err := send("status", s.Status()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := send("event", ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done():
			// Let the disposed event already queued go out first.
		drain:
			for {
				select {
				case ev, ok := <-events:
					if !ok || send("event", ev) != nil {
						break drain
					}
				default:
					break drain
				}
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return
		case <-gone:
			return
		case <-e.done:
			return
		}
	}
}

type wsMessage struct {
	Type string `json:"type"` // status | event
	Data any    `json:"data"`
}

// checkOrigin admits clients without an Origin header, same-host pages and
// the configured origins.
func (e *Engine) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, o := range e.cfg.Server.AllowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// --- Helpers ---

type httpError struct {
	code int
	err  error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &httpError{code: http.StatusBadRequest, err: err}
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	var he *httpError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &he):
		return he.code
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, safe.ErrBadIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownSession), errors.Is(err, ErrUnknownNode),
		errors.Is(err, ErrNoPreview), errors.Is(err, ErrNoJournal):
		return http.StatusNotFound
	case errors.Is(err, ErrSuperseded), errors.Is(err, ErrNotRendered):
		return http.StatusConflict
	case errors.Is(err, ErrClosed), errors.Is(err, ErrDisposed):
		return http.StatusGone
	case errors.Is(err, ErrNoSurface):
		return http.StatusNotImplemented
	case errors.Is(err, ErrTooManySessions), errors.Is(err, ErrStopped),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error("preview: request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
