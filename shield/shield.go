// Package shield provides the HTTP middleware in front of the preview API:
// security headers, body limits, request ids with per-request loggers, HEAD
// handling and per-client rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger, 1<<20) {
//	    r.Use(mw)
//	}
//	r.With(limiter.Middleware).Post("/sessions/{id}/documents", submit)
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Stack returns the standard middleware stack, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID.
func Stack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		RequestID(logger),
	}
}
