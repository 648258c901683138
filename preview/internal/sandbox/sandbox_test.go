package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/preview/internal/compile"
	"github.com/hazyhaar/livepreview/preview/internal/normalize"
	"github.com/hazyhaar/livepreview/preview/internal/stubs"
)

var reg = stubs.Build()

func artifact(t *testing.T, src string) *compile.Artifact {
	t.Helper()
	norm := normalize.Normalize(src)
	return compile.New(compile.Options{}).Compile(norm.Source, reg)
}

func mount(t *testing.T, x *Executor, src string) *Handle {
	t.Helper()
	h, err := x.Mount(context.Background(), artifact(t, src), reg, MountOptions{Version: 1})
	require.NoError(t, err)
	t.Cleanup(h.Dispose)
	return h
}

func doc(h *Handle) string { return string(h.HTML()) }

func click(t *testing.T, h *Handle, id string) diag.List {
	t.Helper()
	diags, err := h.Dispatch(context.Background(), event.Interaction{NodeID: id, Type: "click"})
	require.NoError(t, err)
	return diags
}

func TestMount_RendersDocument(t *testing.T) {
	x := New(Options{Stylesheet: "body{margin:0}"})
	h := mount(t, x, "export default function Card() {\n  return <div className=\"card\" style={{padding: 8, opacity: 0.5}}><h1>Hello</h1></div>;\n}\n")

	require.Equal(t, StateRendered, h.State(), "diagnostics: %v", h.Diagnostics())
	out := doc(h)
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<style>body{margin:0}</style>")
	assert.Contains(t, out, `<div id="preview-root"><div class="card" style="padding:8px;opacity:0.5" data-pv-id="n1"><h1 data-pv-id="n2">Hello</h1></div></div>`)
	assert.Empty(t, h.Diagnostics())
}

func TestMount_UnknownLowercaseIsMountFailure(t *testing.T) {
	h := mount(t, New(Options{}), "function PreviewEntry() {\n  return <div>{fooBar}</div>;\n}\n")

	require.Equal(t, StateError, h.State())
	d, ok := h.Diagnostics().FirstFatal()
	require.True(t, ok)
	assert.Equal(t, diag.MountFailure, d.Kind)
	assert.Equal(t, diag.StageMount, d.Stage)
	assert.Equal(t, "fooBar", d.Symbol)
	assert.Contains(t, doc(h), `data-pv-error="mount_failure"`)
}

func TestMount_UnknownComponentFallsBackWithAnomaly(t *testing.T) {
	h := mount(t, New(Options{}), "function PreviewEntry() {\n  return <FancyCard title=\"x\"><p>inner</p></FancyCard>;\n}\n")

	require.Equal(t, StateRendered, h.State())
	anomalies := h.Diagnostics().OfKind(diag.NormalizationAnomaly)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "FancyCard", anomalies[0].Symbol)
	assert.Equal(t, diag.StageResolve, anomalies[0].Stage)
	assert.Contains(t, anomalies[0].Message, "unresolved symbol FancyCard")
	assert.Contains(t, doc(h), ">inner</p>")
}

func TestMount_EffectsDriveStateUntilSettled(t *testing.T) {
	h := mount(t, New(Options{}), `function PreviewEntry() {
  const [n, setN] = useState(0);
  useEffect(() => { if (n < 3) setN(n + 1); }, [n]);
  return <span>{n}</span>;
}
`)
	require.Equal(t, StateRendered, h.State())
	assert.Contains(t, doc(h), ">3</span>")
}

func TestMount_UnsettledRenderKeepsLastPass(t *testing.T) {
	h := mount(t, New(Options{MaxPasses: 5}), `function PreviewEntry() {
  const [n, setN] = useState(0);
  setN(n + 1);
  return <span>{n}</span>;
}
`)
	require.Equal(t, StateRendered, h.State())
	anomalies := h.Diagnostics().OfKind(diag.NormalizationAnomaly)
	require.Len(t, anomalies, 1)
	assert.Contains(t, anomalies[0].Message, "did not settle after 5 passes")
}

func TestMount_InterruptGuard(t *testing.T) {
	x := New(Options{RenderBudget: 100 * time.Millisecond})
	h := mount(t, x, "function PreviewEntry() {\n  while (true) {}\n  return null;\n}\n")

	require.Equal(t, StateError, h.State())
	d, _ := h.Diagnostics().FirstFatal()
	assert.Equal(t, diag.MountFailure, d.Kind)
	assert.Contains(t, d.Message, "did not finish within 100ms")
}

func TestMount_NonRunnableArtifactShowsCompileError(t *testing.T) {
	h := mount(t, New(Options{}), "const PreviewEntry = (")

	require.Equal(t, StateError, h.State())
	d, _ := h.Diagnostics().FirstFatal()
	assert.Equal(t, diag.CompileFailure, d.Kind)
	assert.Contains(t, doc(h), `data-pv-error="compile_failure"`)
	assert.Contains(t, doc(h), "Preview failed to compile")
}

func TestMount_ErrorSurfaceIsDeterministic(t *testing.T) {
	x := New(Options{})
	a := mount(t, x, "function PreviewEntry() { return <div>{nope}</div> }")
	b := mount(t, x, "function PreviewEntry() { return <div>{nope}</div> }")
	assert.Equal(t, a.HTML(), b.HTML())
}

func TestMount_DangerousHTMLIsSanitized(t *testing.T) {
	h := mount(t, New(Options{}), `function PreviewEntry() {
  return <div dangerouslySetInnerHTML={{__html: '<b>ok</b><script>alert(1)</script><img src="x.png" onerror="alert(1)">'}} />;
}
`)
	require.Equal(t, StateRendered, h.State())
	out := doc(h)
	assert.Contains(t, out, "<b>ok</b>")
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "onerror")
}

func TestMount_GlobalsAreStripped(t *testing.T) {
	h := mount(t, New(Options{}), "function PreviewEntry() {\n  return <p>{typeof eval}|{typeof globalThis}|{typeof Math.max}</p>;\n}\n")
	require.Equal(t, StateRendered, h.State(), "diagnostics: %v", h.Diagnostics())
	assert.Contains(t, doc(h), ">undefined|undefined|function</p>")
}

func TestMount_ContextProvider(t *testing.T) {
	h := mount(t, New(Options{}), `const Theme = createContext("light");
function Label() {
  const theme = useContext(Theme);
  return <em>{theme}</em>;
}
function PreviewEntry() {
  return <div><Label /><Theme.Provider value="dark"><Label /></Theme.Provider></div>;
}
`)
	require.Equal(t, StateRendered, h.State(), "diagnostics: %v", h.Diagnostics())
	out := doc(h)
	assert.Contains(t, out, ">light</em>")
	assert.Contains(t, out, ">dark</em>")
}

const counter = `function PreviewEntry() {
  const [n, setN] = useState(0);
  return <div onClick={() => setN(c => c + 10)}><button onClick={() => setN(c => c + 1)}>count {n}</button><a onClick={(e) => { e.stopPropagation(); setN(c => c + 100); }}>x</a></div>;
}
`

func TestDispatch_ClickUpdatesState(t *testing.T) {
	h := mount(t, New(Options{}), counter)
	require.Equal(t, StateRendered, h.State())

	diags := click(t, h, "n2")
	assert.Empty(t, diags)
	// button then the div it bubbles to
	assert.Contains(t, doc(h), "count 11</button>")

	click(t, h, "n3")
	assert.Contains(t, doc(h), "count 111</button>", "stopPropagation keeps the div handler out")
}

func TestDispatch_InputCarriesValue(t *testing.T) {
	h := mount(t, New(Options{}), `function PreviewEntry() {
  const [q, setQ] = useState("");
  return <label><input value={q} onChange={(e) => setQ(e.target.value)} /><output>{q}</output></label>;
}
`)
	v := "hello"
	_, err := h.Dispatch(context.Background(), event.Interaction{NodeID: "n2", Type: "input", Value: &v})
	require.NoError(t, err)
	assert.Contains(t, doc(h), `value="hello"`)
	assert.Contains(t, doc(h), ">hello</output>")
}

func TestDispatch_UnmountRunsCleanup(t *testing.T) {
	h := mount(t, New(Options{}), `function Child({ onGone }) {
  useEffect(() => () => onGone(), []);
  return <i>child</i>;
}
function PreviewEntry() {
  const [show, setShow] = useState(true);
  const [gone, setGone] = useState(0);
  return <div><button onClick={() => setShow(false)}>hide</button>{show ? <Child onGone={() => setGone(g => g + 1)} /> : null}<b>{gone}</b></div>;
}
`)
	require.Contains(t, doc(h), "<i")
	click(t, h, "n2")
	assert.NotContains(t, doc(h), "<i")
	assert.Contains(t, doc(h), ">1</b>")
}

func TestDispatch_HandlerExceptionIsRuntimeFailure(t *testing.T) {
	h := mount(t, New(Options{}), `function PreviewEntry() {
  return <button onClick={() => { throw new Error("boom"); }}>go</button>;
}
`)
	diags := click(t, h, "n1")
	d, ok := diags.FirstFatal()
	require.True(t, ok)
	assert.Equal(t, diag.RuntimeFailure, d.Kind)
	assert.Equal(t, diag.StageInteract, d.Stage)
	assert.Contains(t, d.Message, "boom")
	assert.Equal(t, StateError, h.State())
	assert.Contains(t, doc(h), `data-pv-error="runtime_failure"`)

	_, err := h.Dispatch(context.Background(), event.Interaction{NodeID: "n1", Type: "click"})
	assert.ErrorIs(t, err, ErrNotRendered)
}

func TestMount_ClassComponent(t *testing.T) {
	h := mount(t, New(Options{}), `export default class Counter extends React.Component {
  constructor(props) {
    super(props);
    this.state = { n: 0, mounted: false };
  }
  componentDidMount() { this.setState({ mounted: true }); }
  render() {
    return <button onClick={() => this.setState(s => ({ n: s.n + 1 }))}>count {this.state.n} {this.state.mounted ? "on" : "off"}</button>;
  }
}
`)
	require.Equal(t, StateRendered, h.State(), "diagnostics: %v", h.Diagnostics())
	assert.Contains(t, doc(h), "count 0 on</button>", "componentDidMount state settles before capture")

	assert.Empty(t, click(t, h, "n1"))
	assert.Contains(t, doc(h), "count 1 on</button>", "instance state survives passes")
}

func TestMount_PureComponentAndUnmount(t *testing.T) {
	h := mount(t, New(Options{}), `class Child extends PureComponent {
  componentWillUnmount() { this.props.onGone(); }
  render() { return <i>{this.props.text}</i>; }
}
function PreviewEntry() {
  const [show, setShow] = useState(true);
  const [gone, setGone] = useState(0);
  return <div><button onClick={() => setShow(false)}>hide</button>{show ? <Child text="kid" onGone={() => setGone(g => g + 1)} /> : null}<b>{gone}</b></div>;
}
`)
	require.Equal(t, StateRendered, h.State(), "diagnostics: %v", h.Diagnostics())
	require.Contains(t, doc(h), ">kid</i>")
	click(t, h, "n2")
	assert.NotContains(t, doc(h), "<i")
	assert.Contains(t, doc(h), ">1</b>")
}

func TestDispatch_UnknownNode(t *testing.T) {
	h := mount(t, New(Options{}), counter)
	_, err := h.Dispatch(context.Background(), event.Interaction{NodeID: "n99", Type: "click"})
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.Equal(t, StateRendered, h.State())
}

func TestInspectNode(t *testing.T) {
	h := mount(t, New(Options{}), `function PreviewEntry() {
  return <section className="hero  dark"><h1>Big   title</h1><p>{"x".repeat(300)}</p></section>;
}
`)
	info, err := h.InspectNode(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "section", info.Tag)
	assert.Equal(t, []string{"hero", "dark"}, info.Classes)
	assert.True(t, strings.HasPrefix(info.Text, "Big title x"))
	assert.Len(t, info.Text, maxInspectText)

	_, err = h.InspectNode(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestInspect_RequiresSurface(t *testing.T) {
	h := mount(t, New(Options{}), counter)
	_, err := h.Inspect(context.Background(), event.Point{X: 1, Y: 1})
	assert.ErrorIs(t, err, ErrNoSurface)
}

func TestDispose_Idempotent(t *testing.T) {
	x := New(Options{})
	h, err := x.Mount(context.Background(), artifact(t, counter), reg, MountOptions{Version: 3})
	require.NoError(t, err)
	require.Equal(t, 1, x.Live())

	h.Dispose()
	h.Dispose()
	assert.Equal(t, StateDisposed, h.State())
	assert.Equal(t, 0, x.Live())

	_, err = h.Capture(context.Background())
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestExecutor_CloseDisposesHandles(t *testing.T) {
	x := New(Options{})
	a, err := x.Mount(context.Background(), artifact(t, counter), reg, MountOptions{Version: 1})
	require.NoError(t, err)
	b, err := x.Mount(context.Background(), artifact(t, counter), reg, MountOptions{Version: 2})
	require.NoError(t, err)

	require.NoError(t, x.Close())
	assert.Equal(t, StateDisposed, a.State())
	assert.Equal(t, StateDisposed, b.State())

	_, err = x.Mount(context.Background(), artifact(t, counter), reg, MountOptions{Version: 3})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMount_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Mount(ctx, artifact(t, counter), reg, MountOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeSurface records what the handle presents.
type fakeSurface struct {
	mu       sync.Mutex
	docs     [][]byte
	closed   bool
	failOpen bool
}

func (f *fakeSurface) OpenSurface(context.Context, Viewport) (Surface, error) {
	if f.failOpen {
		return nil, errors.New("chrome unavailable")
	}
	return f, nil
}

func (f *fakeSurface) Present(_ context.Context, page []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, page)
	return nil
}

func (f *fakeSurface) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

func (f *fakeSurface) ElementAt(_ context.Context, p event.Point) (event.ElementInfo, error) {
	return event.ElementInfo{Tag: "button", Text: "hit"}, nil
}

func (f *fakeSurface) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSurface) presented() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func TestSurface_PresentCaptureInspect(t *testing.T) {
	s := &fakeSurface{}
	x := New(Options{Surfaces: s})
	h := mount(t, x, counter)
	assert.Equal(t, 1, s.presented())

	snap, err := h.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), snap.PNG)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, event.HashHTML(snap.HTML), snap.HTMLHash)
	assert.False(t, snap.Failed)

	info, err := h.Inspect(context.Background(), event.Point{X: 10, Y: 10})
	require.NoError(t, err)
	assert.Equal(t, "button", info.Tag)

	click(t, h, "n2")
	assert.Equal(t, 2, s.presented())

	h.Dispose()
	assert.True(t, s.closed)
}

func TestSurface_OpenFailureIsInfrastructureError(t *testing.T) {
	x := New(Options{Surfaces: &fakeSurface{failOpen: true}})
	_, err := x.Mount(context.Background(), artifact(t, counter), reg, MountOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome unavailable")
	assert.Equal(t, 0, x.Live())
}

func TestHandles_AreIsolated(t *testing.T) {
	x := New(Options{})
	a := mount(t, x, `localStorage.setItem("k", "a");
function PreviewEntry() { return <p>{localStorage.getItem("k")}</p> }`)
	b := mount(t, x, `function PreviewEntry() { return <p>{String(localStorage.getItem("k"))}</p> }`)
	assert.Contains(t, doc(a), ">a</p>")
	assert.Contains(t, doc(b), ">null</p>")
}
