package orders

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/platform/httpx"
)

// Handler serves the order endpoints.
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
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Get("/history", h.history)
		r.Post("/transitions", h.transition)
		r.Post("/receipts", h.receive)
	})
}

type lineResponse struct {
	ID        int64           `json:"id"`
	LineNo    int             `json:"line_no"`
	VariantID int64           `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	LineTotal decimal.Decimal `json:"line_total"`
	Received  decimal.Decimal `json:"received"`
}

type orderResponse struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	Kind           Kind            `json:"kind"`
	PartyID        int64           `json:"party_id,omitempty"`
	BranchID       int64           `json:"branch_id"`
	Status         Status          `json:"status"`
	DeliveryStatus string          `json:"delivery_status"`
	PaymentStatus  string          `json:"payment_status"`
	PaymentType    string          `json:"payment_type,omitempty"`
	PaymentMethod  PaymentMethod   `json:"payment_method,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Paid           decimal.Decimal `json:"paid"`
	BalanceDue     decimal.Decimal `json:"balance_due"`
	JournalID      int64           `json:"journal_id,omitempty"`
	OrderDate      string          `json:"order_date"`
	AllowedActions []Action        `json:"allowed_actions"`
	Lines          []lineResponse  `json:"lines"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toResponse(o Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		Number:         o.Number,
		Kind:           o.Kind,
		PartyID:        o.PartyID,
		BranchID:       o.BranchID,
		Status:         o.Status,
		DeliveryStatus: o.DeliveryStatus(),
		PaymentStatus:  o.PaymentStatus(),
		PaymentType:    string(o.PaymentType),
		PaymentMethod:  o.PaymentMethod,
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		Total:          o.Total,
		Paid:           o.Paid,
		BalanceDue:     o.BalanceDue,
		JournalID:      o.JournalID,
		OrderDate:      o.OrderDate.Format(time.DateOnly),
		AllowedActions: AllowedActions(o.Kind, o.Status),
		CreatedAt:      o.CreatedAt,
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:        l.ID,
			LineNo:    l.LineNo,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Discount:  l.Discount,
			LineTotal: l.LineTotal,
			Received:  l.Received,
		})
	}
	return resp
}

// create handles POST /api/orders
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	created, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

// show handles GET /api/orders/{id}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(order))
}

// history handles GET /api/orders/{id}/history
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	type entry struct {
		From     Status    `json:"from,omitempty"`
		To       Status    `json:"to"`
		Action   Action    `json:"action"`
		ActorID  int64     `json:"actor_id"`
		Comments string    `json:"comments,omitempty"`
		At       time.Time `json:"at"`
	}
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entry{From: e.From, To: e.To, Action: e.Action, ActorID: e.ActorID, Comments: e.Comments, At: e.At})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type transitionRequest struct {
	Action   Action `json:"action" validate:"required"`
	Comments string `json:"comments"`
}

// transition handles POST /api/orders/{id}/transitions
func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	state, err := h.service.Transition(r.Context(), TransitionInput{OrderID: id, Action: req.Action, Comments: req.Comments})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

type receiveRequest struct {
	Lines []ReceiveLine `json:"lines" validate:"required,min=1,dive"`
}

// receive handles POST /api/orders/{id}/receipts
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	receipt, err := h.service.ReceiveGoods(r.Context(), ReceiveInput{OrderID: id, Lines: req.Lines})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"receipt_id":     receipt.ID,
		"receipt_number": receipt.Number,
		"value":          receipt.Value,
		"journal_id":     receipt.JournalID,
	})
}
