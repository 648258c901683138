package preview

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/safe"
)

const (
	hello   = "export default function Hello() {\n  return <h1>hello</h1>;\n}\n"
	counter = "export default function Counter() {\n  const [n, setN] = useState(0);\n  return <button onClick={() => setN(n + 1)}>count {n}</button>;\n}\n"
	broken  = "export default function Broken() {\n  return <div>{</div>;\n}\n"
)

func newEngine(t *testing.T, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

type events struct {
	mu  sync.Mutex
	all []Event
}

func (r *events) sink() Sink {
	return NewCallbackSink(func(_ context.Context, ev Event) error {
		r.mu.Lock()
		r.all = append(r.all, ev)
		r.mu.Unlock()
		return nil
	})
}

func (r *events) stages(session string) []event.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Stage
	for _, ev := range r.all {
		if ev.SessionID == session {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func TestEngine_SubmitPayload(t *testing.T) {
	rec := &events{}
	e := newEngine(t, nil, WithSink(rec.sink()))
	s, err := e.OpenSession("")
	require.NoError(t, err)
	assert.Contains(t, s.ID(), "ses_")

	payload := "---SUMMARY---\nA greeting.\n---SUGGESTIONS---\nAdd a button|Make it blue\n---CODE---\n" + hello
	sub, err := e.SubmitPayload(context.Background(), s.ID(), payload, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.Version)
	assert.Equal(t, "A greeting.", sub.Summary)
	assert.Equal(t, []string{"Add a button", "Make it blue"}, sub.Suggestions)
	require.NotNil(t, sub.Status)
	assert.Equal(t, event.StageRendered, sub.Status.Stage)

	page, version, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Contains(t, string(page), ">hello</h1>")
	assert.Equal(t, []event.Stage{event.StageMounting, event.StageRendered}, rec.stages(s.ID()))
}

func TestEngine_SubmitUnframedPayload(t *testing.T) {
	e := newEngine(t, nil)
	s, err := e.OpenSession("a")
	require.NoError(t, err)

	sub, err := e.SubmitPayload(context.Background(), s.ID(), hello, false)
	require.NoError(t, err)
	assert.Equal(t, "Preview updated.", sub.Summary)
	assert.Empty(t, sub.Suggestions)
}

func TestEngine_SubmitStreamQueues(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.Session.Debounce = 20 * time.Millisecond })
	s, err := e.OpenSession("")
	require.NoError(t, err)

	sub, err := e.SubmitPayload(context.Background(), s.ID(), hello, true)
	require.NoError(t, err)
	assert.True(t, sub.Queued)
	assert.Nil(t, sub.Status)

	require.Eventually(t, func() bool {
		_, v, err := s.Current()
		return err == nil && v == sub.Version
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_SubmitUnknownSession(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.SubmitPayload(context.Background(), "nope", hello, false)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestEngine_OpenSessionReusesID(t *testing.T) {
	e := newEngine(t, nil)
	a, err := e.OpenSession("same")
	require.NoError(t, err)
	b, err := e.OpenSession("same")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Len(t, e.Sessions(), 1)
}

func TestEngine_OpenSessionRejectsBadID(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.OpenSession("../etc")
	assert.ErrorIs(t, err, safe.ErrBadIdentifier)
	assert.Empty(t, e.Sessions())
}

func TestEngine_SessionLimit(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.Session.MaxSessions = 2 })
	_, err := e.OpenSession("a")
	require.NoError(t, err)
	_, err = e.OpenSession("b")
	require.NoError(t, err)
	_, err = e.OpenSession("c")
	assert.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, e.CloseSession("a"))
	_, err = e.OpenSession("c")
	assert.NoError(t, err)

	ids := []string{}
	for _, st := range e.Sessions() {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestEngine_ClosedSessionIsForgotten(t *testing.T) {
	e := newEngine(t, nil)
	s, err := e.OpenSession("x")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Eventually(t, func() bool {
		_, err := e.Session("x")
		return err != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, e.CloseSession("x"), ErrUnknownSession)
}

func TestEngine_IdleSessionsClosed(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.Session.IdleTimeout = time.Millisecond })
	s, err := e.OpenSession("idle")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	e.closeIdle()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("idle session not closed")
	}
	assert.Empty(t, e.Sessions())
}

func TestEngine_Render(t *testing.T) {
	e := newEngine(t, nil)
	out, err := e.Render(context.Background(), hello)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Version)
	assert.False(t, out.Failed)
	assert.Contains(t, string(out.HTML), ">hello</h1>")
	assert.Contains(t, out.Markdown, "# hello")
	assert.Empty(t, out.PNG)
	assert.Empty(t, e.Sessions(), "render sessions are not listed")
}

func TestEngine_RenderCompileFailure(t *testing.T) {
	e := newEngine(t, nil)
	out, err := e.Render(context.Background(), broken)
	require.NoError(t, err)
	assert.True(t, out.Failed)
	require.NotEmpty(t, out.Diagnostics)
	assert.True(t, out.Diagnostics.HasFatal())
}

func TestEngine_RenderWithSurface(t *testing.T) {
	e := newEngine(t, nil, WithSurfaces(&fakeSurfaces{}))
	out, err := e.Render(context.Background(), hello)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), out.PNG)
}

func TestEngine_Journal(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.Journal.Path = filepath.Join(t.TempDir(), "journal.db") })
	s, err := e.OpenSession("j")
	require.NoError(t, err)
	require.NoError(t, s.Submit(context.Background(), Document{Raw: hello}))

	got, err := e.Journal(context.Background(), "j", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, event.StageMounting, got[0].Stage)
	assert.Equal(t, event.StageRendered, got[1].Stage)
}

func TestEngine_JournalDisabled(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.Journal(context.Background(), "j", 10)
	assert.ErrorIs(t, err, ErrNoJournal)
}

func TestEngine_SubscribeFiltersBySession(t *testing.T) {
	e := newEngine(t, nil)
	a, err := e.OpenSession("a")
	require.NoError(t, err)
	b, err := e.OpenSession("b")
	require.NoError(t, err)

	ch, cancel := e.Subscribe("a")
	defer cancel()

	require.NoError(t, b.Submit(context.Background(), Document{Raw: hello}))
	require.NoError(t, a.Submit(context.Background(), Document{Raw: hello}))

	ev := <-ch
	assert.Equal(t, "a", ev.SessionID)
	assert.Equal(t, event.StageMounting, ev.Stage)
}

func TestEngine_Catalog(t *testing.T) {
	e := newEngine(t, nil)
	c := e.Catalog()
	assert.NotEmpty(t, c.Version)
	assert.NotEmpty(t, c.Symbols)
	assert.Contains(t, c.Builtins, "Math")
	assert.NotEmpty(t, c.Prompt)
}

func TestEngine_Stop(t *testing.T) {
	e := newEngine(t, nil)
	s, err := e.OpenSession("")
	require.NoError(t, err)

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	<-s.Done()

	_, err = e.OpenSession("")
	assert.ErrorIs(t, err, ErrStopped)
	_, err = e.Render(context.Background(), hello)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, e.Start(context.Background()), ErrStopped)
}

func TestNew_UnknownSinkType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sinks = []SinkConfig{{Type: "carrier-pigeon"}}
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_UnknownSinkLeavesNoJournalOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	cfg := DefaultConfig()
	cfg.Journal.Path = path
	cfg.Sinks = []SinkConfig{{Type: "stdout"}, {Type: "carrier-pigeon"}}

	_, err := New(cfg)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "journal must not be opened for a rejected config")
}

// fakeSurfaces stands in for the browser.
type fakeSurfaces struct{}

func (fakeSurfaces) OpenSurface(context.Context, Viewport) (Surface, error) { return fakeSurface{}, nil }

type fakeSurface struct{}

func (fakeSurface) Present(context.Context, []byte) error      { return nil }
func (fakeSurface) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }
func (fakeSurface) Close() error                               { return nil }
func (fakeSurface) ElementAt(_ context.Context, p Point) (ElementInfo, error) {
	return ElementInfo{Tag: "h1", Text: "hello"}, nil
}
