// logging.go -- Request-scoped logging helpers.
//
// Every auth log line carries chi's request id and the client IP (after
// RealIP), so it can be joined with middleware.Logger output for the same request.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// reqAttrs returns the request attributes every auth log line starts with.
// current_user is added once LoadUser has resolved someone.
func reqAttrs(r *http.Request) []any {
	attrs := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"ip", clientIP(r),
		"method", r.Method,
		"path", r.URL.Path,
	}
	if u, ok := UserFromContext(r.Context()); ok {
		attrs = append(attrs, "current_user", u.ID)
	}
	return attrs
}

func logDebug(r *http.Request, msg string, args ...any) {
	slog.Debug(msg, append(reqAttrs(r), args...)...)
}

func logInfo(r *http.Request, msg string, args ...any) {
	slog.Info(msg, append(reqAttrs(r), args...)...)
}

func logWarn(r *http.Request, msg string, args ...any) {
	slog.Warn(msg, append(reqAttrs(r), args...)...)
}

func logError(r *http.Request, msg string, args ...any) {
	slog.Error(msg, append(reqAttrs(r), args...)...)
}
