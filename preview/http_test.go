package preview

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/shield"
)

func newServer(t *testing.T, mutate func(*Config), opts ...Option) (*Engine, *httptest.Server) {
	t.Helper()
	e := newEngine(t, mutate, opts...)
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)
	return e, srv
}

func do(t *testing.T, method, url, contentType, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func openHTTP(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/sessions", "application/json", `{"id":"`+id+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHTTP_SubmitAndSnapshot(t *testing.T) {
	_, srv := newServer(t, nil)
	openHTTP(t, srv, "s1")

	resp := do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "text/plain", hello)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decode[Submission](t, resp)
	assert.Equal(t, int64(1), sub.Version)
	assert.Equal(t, "s1", sub.SessionID)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/snapshot", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, shield.PreviewCSP, resp.Header.Get("Content-Security-Policy"))
	assert.Empty(t, resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "1", resp.Header.Get("X-Preview-Version"))
	assert.Contains(t, readAll(t, resp), ">hello</h1>")

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/snapshot.md", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readAll(t, resp), "# hello")

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[Status](t, resp)
	assert.Equal(t, event.StageRendered, st.Stage)
	assert.Equal(t, int64(1), st.Version)
}

func TestHTTP_SubmitJSON(t *testing.T) {
	_, srv := newServer(t, nil)
	openHTTP(t, srv, "s1")

	body, _ := json.Marshal(submitRequest{Payload: "---SUMMARY---\nHi.\n---CODE---\n" + hello})
	resp := do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "application/json", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hi.", decode[Submission](t, resp).Summary)

	body, _ = json.Marshal(submitRequest{Code: counter, Stream: true})
	resp = do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "application/json", string(body))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[Submission](t, resp)
	assert.True(t, sub.Queued)
	assert.Equal(t, int64(2), sub.Version)
}

func TestHTTP_Errors(t *testing.T) {
	_, srv := newServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/sessions/missing", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "unknown session")

	openHTTP(t, srv, "s1")
	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/snapshot", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "nothing mounted yet")

	resp = do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "application/json", "{")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "text/plain", hello)
	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/capture.png", "", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode, "no browser surface")

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/inspect?x=1", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/inspect?node=n99", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/journal", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "journal disabled")
}

func TestHTTP_BodyLimit(t *testing.T) {
	_, srv := newServer(t, func(c *Config) { c.Server.MaxBody = 16 })
	openHTTP(t, srv, "s1")

	resp := do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "text/plain", hello)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHTTP_RateLimit(t *testing.T) {
	_, srv := newServer(t, func(c *Config) { c.Server.RateLimit = 1 })
	openHTTP(t, srv, "s1")

	resp := do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "text/plain", hello)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "text/plain", hello)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "only submissions are limited")
}

func TestHTTP_InspectAndDispatch(t *testing.T) {
	_, srv := newServer(t, nil)
	openHTTP(t, srv, "s1")
	do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "text/plain", counter)

	resp := do(t, http.MethodGet, srv.URL+"/sessions/s1/inspect?node=n1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[ElementInfo](t, resp)
	assert.Equal(t, "button", info.Tag)
	assert.Equal(t, "count 0", info.Text)

	resp = do(t, http.MethodPost, srv.URL+"/sessions/s1/dispatch", "application/json", `{"node_id":"n1","type":"click"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/snapshot", "", "")
	assert.Contains(t, readAll(t, resp), "count 1</button>")

	resp = do(t, http.MethodPost, srv.URL+"/sessions/s1/dispatch", "application/json", `{"type":"click"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/sessions/s1/reset", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/snapshot", "", "")
	assert.Contains(t, readAll(t, resp), "count 0</button>", "reset starts from fresh state")
}

func TestHTTP_CaptureWithSurface(t *testing.T) {
	_, srv := newServer(t, nil, WithSurfaces(fakeSurfaces{}))
	openHTTP(t, srv, "s1")
	do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "text/plain", hello)

	resp := do(t, http.MethodGet, srv.URL+"/sessions/s1/capture.png", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png", readAll(t, resp))

	resp = do(t, http.MethodGet, srv.URL+"/sessions/s1/inspect?x=3&y=4", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "h1", decode[ElementInfo](t, resp).Tag)
}

func TestHTTP_ListCloseCatalogHealth(t *testing.T) {
	_, srv := newServer(t, nil)
	openHTTP(t, srv, "a")
	openHTTP(t, srv, "b")

	resp := do(t, http.MethodGet, srv.URL+"/sessions", "", "")
	assert.Len(t, decode[[]Status](t, resp), 2)

	resp = do(t, http.MethodDelete, srv.URL+"/sessions/a", "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodGet, srv.URL+"/sessions/a", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/catalog", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[Catalog](t, resp).Symbols)

	resp = do(t, http.MethodGet, srv.URL+"/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", h["status"])
	assert.Equal(t, float64(1), h["sessions"])
}

func TestHTTP_OpenWithoutBody(t *testing.T) {
	_, srv := newServer(t, nil)
	resp := do(t, http.MethodPost, srv.URL+"/sessions", "", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, strings.HasPrefix(decode[Status](t, resp).ID, "ses_"))
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestHTTP_EventsWebsocket(t *testing.T) {
	_, srv := newServer(t, nil)
	openHTTP(t, srv, "s1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/sessions/s1/events"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type string `json:"type"`
		Data Status `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	assert.Equal(t, "s1", first.Data.ID)

	do(t, http.MethodPost, srv.URL+"/sessions/s1/documents", "text/plain", hello)

	type msg struct {
		Type string `json:"type"`
		Data Event  `json:"data"`
	}
	var got []event.Stage
	for len(got) < 2 {
		var m msg
		require.NoError(t, conn.ReadJSON(&m))
		require.Equal(t, "event", m.Type)
		got = append(got, m.Data.Stage)
	}
	assert.Equal(t, []event.Stage{event.StageMounting, event.StageRendered}, got)

	do(t, http.MethodDelete, srv.URL+"/sessions/s1", "", "")
	var m msg
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, event.StageDisposed, m.Data.Stage)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHTTP_EventsRejectsForeignOrigin(t *testing.T) {
	_, srv := newServer(t, func(c *Config) { c.Server.AllowOrigins = []string{"https://host.example"} })
	openHTTP(t, srv, "s1")

	h := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/sessions/s1/events"), h)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	h = http.Header{"Origin": []string{"https://host.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/sessions/s1/events"), h)
	require.NoError(t, err)
	conn.Close()
}
