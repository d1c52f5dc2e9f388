package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// PriceHandler serves the most recent cached quote for the tracked token.
type PriceHandler struct {
	cache  domain.PriceCache
	symbol string
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler for one token symbol.
func NewPriceHandler(cache domain.PriceCache, symbol string, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		cache:  cache,
		symbol: symbol,
		logger: logger.With(slog.String("handler", "price")),
	}
}

// GetPrice handles GET /api/price.
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, observedAt, err := h.cache.GetPrice(r.Context(), h.symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no price observed yet")
			return
		}
		h.logger.ErrorContext(r.Context(), "price read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "price unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":       h.symbol,
		"price_usd":   price,
		"observed_at": observedAt.UTC(),
	})
}
