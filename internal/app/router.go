package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flourmill-erp/flourmill/internal/credit"
	"github.com/flourmill-erp/flourmill/internal/eod"
	"github.com/flourmill-erp/flourmill/internal/inventory"
	"github.com/flourmill-erp/flourmill/internal/ledger"
	"github.com/flourmill-erp/flourmill/internal/observability"
	"github.com/flourmill-erp/flourmill/internal/orders"
	"github.com/flourmill-erp/flourmill/internal/payments"
	"github.com/flourmill-erp/flourmill/internal/platform/httpx"
	"github.com/flourmill-erp/flourmill/jobs"
)

// Pinger reports backing-store reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	DB      Pinger

	OrdersHandler    *orders.Handler
	CreditHandler    *credit.Handler
	LedgerHandler    *ledger.Handler
	PaymentsHandler  *payments.Handler
	EODHandler       *eod.Handler
	InventoryHandler *inventory.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with flourmill defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB != nil {
			if err := params.DB.Ping(r.Context()); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.OrdersHandler != nil {
			r.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.CreditHandler != nil {
			r.Route("/credit", params.CreditHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			r.Route("/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.PaymentsHandler != nil {
			r.Route("/payments", params.PaymentsHandler.MountRoutes)
		}
		if params.EODHandler != nil {
			r.Route("/eod", params.EODHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
