package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/livepreview/preview/event"
	"github.com/hazyhaar/livepreview/preview/internal/sandbox"
)

// ErrNoElement is returned by ElementAt when nothing is under the point.
var ErrNoElement = errors.New("browser: no element at point")

const frameScript = `() => new Promise(r => requestAnimationFrame(() => requestAnimationFrame(() => r(true))))`

const elementScript = `(x, y) => {
	const el = document.elementFromPoint(x, y);
	if (!el) return null;
	return {
		node_id: el.getAttribute("data-pv-id") || "",
		tag: el.tagName.toLowerCase(),
		classes: Array.from(el.classList),
		text: (el.innerText || "").replace(/\s+/g, " ").trim().slice(0, 200),
	};
}`

// Surface is one browser page presenting a sandbox handle's documents.
type Surface struct {
	m  *Manager
	vp sandbox.Viewport

	mu     sync.Mutex
	page   *rod.Page
	router *rod.HijackRouter
	gen    uint64
	last   []byte
}

// OpenSurface opens a page sized to vp. It implements sandbox.SurfaceProvider.
func (m *Manager) OpenSurface(ctx context.Context, vp sandbox.Viewport) (sandbox.Surface, error) {
	s := &Surface{m: m, vp: vp}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Surface) openLocked(ctx context.Context) error {
	b, gen, err := s.m.current(ctx)
	if err != nil {
		return err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("browser: create page: %w", err)
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.vp.Width,
		Height:            s.vp.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		_ = page.Close()
		return fmt.Errorf("browser: set viewport: %w", err)
	}
	s.router = blockNetwork(page, s.m.cfg.Logger)
	s.page = page
	s.gen = gen
	return nil
}

// pageLocked returns a page on the running Chrome, reopening it and
// re-presenting the last document after a recycle.
func (s *Surface) pageLocked(ctx context.Context) (*rod.Page, error) {
	if s.page != nil && s.gen == s.m.Generation() {
		return s.page, nil
	}
	s.closeLocked()
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	if s.last != nil {
		if err := s.presentLocked(ctx, s.last); err != nil {
			return nil, err
		}
	}
	return s.page, nil
}

// Present replaces the page's document and waits for it to paint.
func (s *Surface) Present(ctx context.Context, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.pageLocked(ctx); err != nil {
		return err
	}
	return s.presentLocked(ctx, doc)
}

func (s *Surface) presentLocked(ctx context.Context, doc []byte) error {
	p := s.page.Context(ctx)
	if err := p.SetDocumentContent(string(doc)); err != nil {
		return fmt.Errorf("browser: set document: %w", err)
	}
	if _, err := p.Eval(frameScript); err != nil {
		return fmt.Errorf("browser: wait frame: %w", err)
	}
	s.last = doc
	return nil
}

// Screenshot captures the viewport as PNG.
func (s *Surface) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, err := s.pageLocked(ctx)
	if err != nil {
		return nil, err
	}
	png, err := page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return png, nil
}

// ElementAt hit-tests a viewport coordinate.
func (s *Surface) ElementAt(ctx context.Context, pt event.Point) (event.ElementInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, err := s.pageLocked(ctx)
	if err != nil {
		return event.ElementInfo{}, err
	}
	res, err := page.Context(ctx).Eval(elementScript, pt.X, pt.Y)
	if err != nil {
		return event.ElementInfo{}, fmt.Errorf("browser: element at: %w", err)
	}
	if res.Value.Nil() {
		return event.ElementInfo{}, ErrNoElement
	}
	var info event.ElementInfo
	if err := res.Value.Unmarshal(&info); err != nil {
		return event.ElementInfo{}, fmt.Errorf("browser: decode element: %w", err)
	}
	return info, nil
}

// Close closes the page.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Surface) closeLocked() error {
	if s.router != nil {
		_ = s.router.Stop()
		s.router = nil
	}
	if s.page == nil {
		return nil
	}
	err := s.page.Close()
	s.page = nil
	if err != nil && s.gen == s.m.Generation() {
		return fmt.Errorf("browser: close page: %w", err)
	}
	return nil
}
