package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	checker HealthChecker
	storage string
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler. A nil checker always reports up.
func NewHealthHandler(checker HealthChecker, storage string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, storage: storage, logger: logger}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.checker.HealthCheck(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("error", err.Error()))
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "storage": h.storage})
			return
		}
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "storage": h.storage})
}
