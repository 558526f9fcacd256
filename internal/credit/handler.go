package credit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/platform/httpx"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// Handler serves credit previews.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/customers/{id}/evaluate", h.evaluate)
}

// evaluate handles GET /api/credit/customers/{id}/evaluate?amount=&payment_type=
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		httpx.RespondError(w, h.logger, shared.Invalid("amount", "must be a decimal number"))
		return
	}
	paymentType := PaymentType(r.URL.Query().Get("payment_type"))
	if paymentType == "" {
		paymentType = PaymentUnpaid
	}
	decision, err := h.service.Evaluate(r.Context(), id, amount, paymentType)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}
