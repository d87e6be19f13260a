package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/smazurov/gethkeeper/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// HTTPLoggingMiddleware logs each request once it completes and tags the
// response with a request ID, reusing the caller's X-Request-ID if sent.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()

	requestID := ctx.Header(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx.SetHeader(requestIDHeader, requestID)

	next(ctx)

	method, path, status := ctx.Method(), ctx.URL().Path, ctx.Status()
	attrs := []slog.Attr{
		slog.String("request_id", requestID),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if query := ctx.URL().RawQuery; query != "" && !strings.Contains(query, "auth=") {
		attrs = append(attrs, slog.String("query", query))
	}

	logging.GetLogger("http").LogAttrs(ctx.Context(), requestLevel(method, path, status), "HTTP request completed", attrs...)
}

// requestLevel picks the log level of a completed request. Preflights,
// health checks and finished event streams are debug noise.
func requestLevel(method, path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case method == http.MethodOptions, path == "/api/health", strings.HasSuffix(path, "/stream"), path == "/api/events", path == "/api/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
