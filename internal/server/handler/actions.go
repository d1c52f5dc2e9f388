package handler

import (
	"log/slog"
	"net/http"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// ActionHandler serves the trade action history.
type ActionHandler struct {
	store  domain.ActionStore
	logger *slog.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(store domain.ActionStore, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		store:  store,
		logger: logger.With(slog.String("handler", "actions")),
	}
}

// ListActions handles GET /api/actions?limit=N.
func (h *ActionHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "action list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "action history unavailable")
		return
	}
	if records == nil {
		records = []domain.ActionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": records,
		"count":   len(records),
	})
}
