package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/platform/httpx"
)

// Handler serves the ledger endpoints.
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
	r.Post("/journals", h.post)
	r.Get("/journals/{id}", h.show)
	r.Post("/journals/{id}/reverse", h.reverse)
}

type lineRequest struct {
	AccountCode string          `json:"account_code" validate:"required_without=Event"`
	Event       string          `json:"event"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Memo        string          `json:"memo"`
}

type postRequest struct {
	Reference   string        `json:"reference"`
	Date        string        `json:"date"`
	Description string        `json:"description" validate:"required"`
	BranchID    int64         `json:"branch_id"`
	Lines       []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

// post handles POST /api/ledger/journals
func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := PostInput{
		Reference:   req.Reference,
		Description: req.Description,
		BranchID:    req.BranchID,
	}
	if req.Date != "" {
		date, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
		in.Date = date
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, PostingLine{
			Account: AccountRef{Code: l.AccountCode, Event: Event(l.Event)},
			Debit:   l.Debit,
			Credit:  l.Credit,
			Memo:    l.Memo,
		})
	}
	id, err := h.service.Post(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"journal_id": id})
}

// show handles GET /api/ledger/journals/{id}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.Journal(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

// reverse handles POST /api/ledger/journals/{id}/reverse
func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	reversalID, err := h.service.Reverse(r.Context(), id, req.Description)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"journal_id": reversalID})
}
