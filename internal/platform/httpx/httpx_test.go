package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flourmill-erp/flourmill/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.Invalid("kind", "is required"), http.StatusBadRequest},
		{&shared.InsufficientCreditError{CustomerID: 1, Amount: decimal.NewFromInt(1500), Available: decimal.NewFromInt(1000)}, http.StatusUnprocessableEntity},
		{&shared.InsufficientStockError{VariantID: 1, BranchID: 1}, http.StatusUnprocessableEntity},
		{&shared.InvalidTransitionError{Kind: "credit", From: "shipped", Action: "cancel"}, http.StatusConflict},
		{&shared.AlreadyRunError{}, http.StatusConflict},
		{&shared.ForbiddenError{Action: "approve", Role: shared.RoleStaff}, http.StatusForbidden},
		{fmt.Errorf("get: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{&shared.JournalNotReversibleError{JournalID: 4, ReversalID: 9}, http.StatusConflict},
		{&shared.UnbalancedJournalError{}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, nil, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestCreditProblemCarriesAmounts(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, nil, &shared.InsufficientCreditError{CustomerID: 9, Amount: decimal.NewFromInt(1500), Available: decimal.NewFromInt(1000)})

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "1000.00", body.Details["available_credit"])
	require.Equal(t, "1500.00", body.Details["amount"])
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	err := DecodeJSON(req, &target)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateReportsField(t *testing.T) {
	type payload struct {
		BranchID int64 `validate:"required,gt=0"`
	}
	err := Validate(payload{})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "branchid", verr.Field)
	require.NoError(t, Validate(payload{BranchID: 2}))
}
