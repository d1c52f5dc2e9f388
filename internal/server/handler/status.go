package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/maxx-ecosystem/maxxbot/internal/controller"
)

// StatusProvider is the slice of the controller the handler reads from.
type StatusProvider interface {
	Status(ctx context.Context) (controller.Status, error)
}

// StatusHandler exposes the controller's live view.
type StatusHandler struct {
	provider StatusProvider
	logger   *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(provider StatusProvider, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		provider: provider,
		logger:   logger.With(slog.String("handler", "status")),
	}
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.provider.Status(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "status read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
