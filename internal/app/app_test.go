package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/observability"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/sequence"
	"github.com/flourmill-erp/flourmill/internal/shared"
	"github.com/flourmill-erp/flourmill/internal/testing/memstore"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/flourmill")
	t.Setenv("CREDIT_ESCALATION_RATIO", "0.75")
	t.Setenv("EOD_LOCK_TTL", "45s")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 45*time.Second, cfg.EODLockTTL)
	require.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	require.True(t, cfg.CreditPolicy().EscalationRatio.Equal(decimal.RequireFromString("0.75")))
	require.True(t, cfg.CreditPolicy().EscalateWhenExhausted)
	require.True(t, cfg.LedgerConfig().Tolerance.Equal(ledger.DefaultTolerance))
	require.Equal(t, 3, cfg.TxOptions().MaxRetries)
	require.Equal(t, time.UTC, cfg.Location())
	require.Equal(t, time.UTC, cfg.LedgerConfig().Location)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CREDIT_ESCALATION_RATIO", "1.5")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("CREDIT_ESCALATION_RATIO", "0.8")
	t.Setenv("BUSINESS_TIMEZONE", "Mars/Olympus_Mons")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(TestModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestActorMiddleware(t *testing.T) {
	var got shared.Actor
	var present bool
	h := ActorMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, present = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "12")
	req.Header.Set(HeaderActorRole, "Approver")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, present)
	require.Equal(t, shared.Actor{ID: 12, Role: shared.RoleApprover}, got)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, present)

	for _, tc := range []struct{ id, role string }{{"abc", ""}, {"-3", ""}, {"4", "owner"}} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderActorID, tc.id)
		req.Header.Set(HeaderActorRole, tc.role)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc)
	}
}

func newTestRouter(t *testing.T, cfg *Config, pinger Pinger) (http.Handler, *memstore.Store) {
	t.Helper()
	store := memstore.New().SeedChart().AddBranch(1).SetStock(100, 1, decimal.NewFromInt(10))
	svc := orders.NewService(orders.Dependencies{
		Repo:    store.OrderRepo(),
		Ledger:  ledger.NewEngine(ledger.Config{}, nil, nil),
		Numbers: sequence.NewGenerator(nil),
	})
	return NewRouter(RouterParams{
		Config:        cfg,
		Metrics:       observability.NewMetrics(),
		DB:            pinger,
		OrdersHandler: orders.NewHandler(svc, nil),
	}), store
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, &Config{}, stubPinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "flourmill_http_requests_total")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRouterReportsDegradedDatabase(t *testing.T) {
	router, _ := newTestRouter(t, &Config{}, stubPinger{err: errors.New("no route to host")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterCreatesOrderForIdentifiedActor(t *testing.T) {
	router, store := newTestRouter(t, &Config{}, nil)
	body := `{"kind":"pos","branch_id":1,"payment_method":"cash","lines":[{"variant_id":100,"quantity":"2","unit_price":"45"}]}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem struct {
		Details map[string]any `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "actor", problem.Details["field"])
	require.Empty(t, store.Orders())

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
	req.Header.Set(HeaderActorID, "5")
	req.Header.Set(HeaderActorRole, "staff")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created orders.Created
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, orders.StatusCompleted, created.Status)
	require.True(t, strings.HasPrefix(created.OrderNumber, "ORD-1-"))
	require.True(t, store.StockOf(100, 1).Equal(decimal.NewFromInt(8)))
}

func TestRouterRateLimits(t *testing.T) {
	router, _ := newTestRouter(t, &Config{RateLimitPerMinute: 2}, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
