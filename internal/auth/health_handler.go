// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/MGallo-Code/gatekeep/internal/store"
)

// HealthChecker pings one dependency. Satisfied by *store.RedisSessionStore,
// *store.PostgresStore and *provider.Client.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckHealth handles GET /health -- pings every configured dependency, returns per-dependency status.
// Returns 200 if all are healthy, 503 if any is down.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.HealthChecks))
	healthy := true

	for name, checker := range h.HealthChecks {
		err := checker.CheckHealth(r.Context())
		switch {
		case err == nil:
			status[name] = "ok"
		case errors.Is(err, store.ErrStoreDisabled):
			status[name] = "disabled"
		default:
			logError(r, "health check failed", "dependency", name, "error", err)
			status[name] = "error"
			healthy = false
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
