package eod

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/flourmill-erp/flourmill/internal/platform/httpx"
	"github.com/flourmill-erp/flourmill/internal/shared"
)

// Handler serves the end-of-day endpoints.
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
	r.Get("/", h.list)
	r.Post("/", h.run)
	r.Get("/{id}", h.show)
	r.Post("/{id}/reopen", h.reopen)
}

type runRequest struct {
	BranchID   int64           `json:"branch_id" validate:"required,gt=0"`
	Date       string          `json:"date"`
	ActualCash decimal.Decimal `json:"actual_cash"`
	Notes      string          `json:"notes"`
}

// run handles POST /api/eod
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := RunInput{BranchID: req.BranchID, ActualCash: req.ActualCash, Notes: req.Notes}
	if req.Date != "" {
		date, err := parseDate("date", req.Date)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		in.Date = date
	}
	summary, err := h.engine.Run(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, summary)
}

// show handles GET /api/eod/{id}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	summary, err := h.engine.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

// list handles GET /api/eod?branch_id=&from=&to=&limit=
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ListFilter
	var err error
	if v := q.Get("branch_id"); v != "" {
		if filter.BranchID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httpx.RespondError(w, h.logger, shared.Invalid("branch_id", "must be an integer"))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			httpx.RespondError(w, h.logger, shared.Invalid("limit", "must be an integer"))
			return
		}
	}
	if v := q.Get("from"); v != "" {
		if filter.From, err = parseDate("from", v); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = parseDate("to", v); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	summaries, err := h.engine.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summaries)
}

// reopen handles POST /api/eod/{id}/reopen
func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.engine.Reopen(r.Context(), ReopenInput{SummaryID: id, Reason: req.Reason}); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseDate(field, v string) (time.Time, error) {
	date, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, shared.Invalid(field, "must be YYYY-MM-DD")
	}
	return date, nil
}
