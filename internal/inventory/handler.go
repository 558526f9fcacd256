package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flourmill-erp/flourmill/internal/platform/httpx"
)

// StockCardReader loads stock cards.
type StockCardReader interface {
	StockCard(ctx context.Context, key Key, limit int) (StockCard, error)
}

// Handler serves read-only inventory endpoints.
type Handler struct {
	reader StockCardReader
	logger *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(reader StockCardReader, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, logger: logger}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/branches/{branchID}/variants/{variantID}", h.stockCard)
}

// stockCard handles GET /api/inventory/branches/{branchID}/variants/{variantID}
func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.IDParam(r, "branchID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	variantID, err := httpx.IDParam(r, "variantID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	card, err := h.reader.StockCard(r.Context(), Key{VariantID: variantID, BranchID: branchID}, limit)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, card)
}
