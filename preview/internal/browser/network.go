package browser

import (
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockNetwork fails every request a preview page makes except inline data.
func blockNetwork(page *rod.Page, log *slog.Logger) *rod.HijackRouter {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		u := h.Request.URL().String()
		if allowed(u) {
			h.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		log.Debug("browser: blocked request", "url", u, "type", h.Request.Type())
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
	})
	go router.Run()
	return router
}

func allowed(u string) bool {
	u = strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(u, "data:") || strings.HasPrefix(u, "about:")
}
