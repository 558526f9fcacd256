package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validation *shared.ValidationError
		credit     *shared.InsufficientCreditError
		stock      *shared.InsufficientStockError
		transition *shared.InvalidTransitionError
		alreadyRun *shared.AlreadyRunError
		reopen     *shared.OutOfOrderReopenError
		dayClosed  *shared.DayClosedError
		forbidden  *shared.ForbiddenError
		reversal   *shared.JournalNotReversibleError
	)
	switch {
	case errors.As(err, &validation):
		ProblemWithDetails(w, http.StatusBadRequest, "Validation Failed", err.Error(),
			map[string]any{"field": validation.Field})
	case errors.As(err, &credit):
		ProblemWithDetails(w, http.StatusUnprocessableEntity, "Insufficient Credit", err.Error(), map[string]any{
			"customer_id":      credit.CustomerID,
			"amount":           credit.Amount.StringFixed(2),
			"available_credit": credit.Available.StringFixed(2),
		})
	case errors.As(err, &stock):
		ProblemWithDetails(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error(), map[string]any{
			"variant_id": stock.VariantID,
			"branch_id":  stock.BranchID,
			"requested":  stock.Requested.String(),
			"available":  stock.Available.String(),
		})
	case errors.As(err, &transition):
		ProblemWithDetails(w, http.StatusConflict, "Invalid Transition", err.Error(), map[string]any{
			"from":   transition.From,
			"action": transition.Action,
		})
	case errors.As(err, &alreadyRun):
		Problem(w, http.StatusConflict, "End Of Day Already Run", err.Error())
	case errors.As(err, &reopen):
		Problem(w, http.StatusConflict, "Reopen Out Of Order", err.Error())
	case errors.As(err, &dayClosed):
		Problem(w, http.StatusConflict, "Day Closed", err.Error())
	case errors.As(err, &reversal):
		ProblemWithDetails(w, http.StatusConflict, "Journal Not Reversible", err.Error(), map[string]any{
			"journal_id":  reversal.JournalID,
			"reversal_id": reversal.ReversalID,
		})
	case errors.As(err, &forbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrLockBusy):
		Problem(w, http.StatusConflict, "Busy", err.Error())
	case errors.Is(err, shared.ErrNoOrders):
		Problem(w, http.StatusUnprocessableEntity, "Nothing To Reconcile", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if logger != nil {
			logger.Error("request failed", slog.Bool("fatal", shared.IsFatal(err)), slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
