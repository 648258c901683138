package browser

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/preview/internal/sandbox"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"data:image/png;base64,AAAA", true},
		{"DATA:text/plain,hi", true},
		{"about:blank", true},
		{"https://cdn.example.com/font.woff2", false},
		{"http://localhost:3000/api", false},
		{"ws://example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, allowed(tt.url), tt.url)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	assert.Equal(t, int64(1<<30), c.MemoryLimit)
	assert.Equal(t, 4*time.Hour, c.RecycleInterval)
	assert.Equal(t, ":99", c.XvfbDisplay)
	assert.NotNil(t, c.Logger)
}

func TestClosedManagerRefusesSurfaces(t *testing.T) {
	m := NewManager(Config{})
	require.NoError(t, m.Close())
	_, err := m.OpenSurface(context.Background(), sandbox.Viewport{Width: 100, Height: 100})
	assert.ErrorIs(t, err, ErrClosed)
}

func chrome(t *testing.T) *Manager {
	t.Helper()
	if os.Getenv("PREVIEW_CHROME") != "1" {
		t.Skip("set PREVIEW_CHROME=1 to run browser tests")
	}
	m := NewManager(Config{})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestSurface_PresentScreenshotHitTest(t *testing.T) {
	m := chrome(t)
	ctx := context.Background()

	s, err := m.OpenSurface(ctx, sandbox.Viewport{Width: 400, Height: 300})
	require.NoError(t, err)
	defer s.Close()

	doc := `<!DOCTYPE html><html><body style="margin:0"><button class="cta big" data-pv-id="n1" style="width:400px;height:300px">Buy now</button>` +
		`<img src="https://example.com/x.png"></body></html>`
	require.NoError(t, s.Present(ctx, []byte(doc)))

	png, err := s.Screenshot(ctx)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	info, err := s.ElementAt(ctx, event.Point{X: 20, Y: 20})
	require.NoError(t, err)
	assert.Equal(t, event.ElementInfo{NodeID: "n1", Tag: "button", Classes: []string{"cta", "big"}, Text: "Buy now"}, info)
}

func TestSurface_SurvivesRecycle(t *testing.T) {
	m := chrome(t)
	ctx := context.Background()

	s, err := m.OpenSurface(ctx, sandbox.Viewport{Width: 200, Height: 200})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Present(ctx, []byte(`<p data-pv-id="n1" style="font-size:80px">hi</p>`)))

	require.NoError(t, m.Recycle(ctx))

	info, err := s.ElementAt(ctx, event.Point{X: 10, Y: 40})
	require.NoError(t, err)
	assert.Equal(t, "p", info.Tag)
}
