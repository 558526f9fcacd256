package payments

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/platform/httpx"
)

// Handler serves the payment endpoints.
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.allocate)
	r.Get("/{id}", h.show)
}

type allocateRequest struct {
	PartyKind credit.PartyKind     `json:"party_kind" validate:"required,oneof=customer supplier"`
	PartyID   int64                `json:"party_id" validate:"required,gt=0"`
	BranchID  int64                `json:"branch_id" validate:"gte=0"`
	Amount    decimal.Decimal      `json:"amount"`
	Method    orders.PaymentMethod `json:"method" validate:"required"`
	Date      string               `json:"date"`
	Reference string               `json:"reference"`
	Targets   []Target             `json:"targets" validate:"dive"`
}

// allocate handles POST /api/payments
func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := AllocateInput{
		PartyKind:      req.PartyKind,
		PartyID:        req.PartyID,
		BranchID:       req.BranchID,
		Amount:         req.Amount,
		Method:         req.Method,
		Reference:      req.Reference,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Targets:        req.Targets,
	}
	if req.Date != "" {
		date, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
		in.Date = date
	}
	result, err := h.engine.Allocate(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

// show handles GET /api/payments/{id}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	payment, err := h.engine.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":             payment.ID,
		"voucher_number": payment.VoucherNumber,
		"party_kind":     payment.PartyKind,
		"party_id":       payment.PartyID,
		"amount":         payment.Amount,
		"method":         payment.Method,
		"date":           payment.Date.Format(time.DateOnly),
		"allocated":      payment.Allocated,
		"unallocated":    payment.Unallocated,
		"advance_amount": payment.AdvanceAmount,
		"journal_id":     payment.JournalID,
		"reference":      payment.Reference,
		"allocations":    payment.Allocations,
	})
}
