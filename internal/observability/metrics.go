package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus registry plus HTTP and business collectors.
// Every method is safe on a nil receiver so tests can pass nil.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	ordersCreated  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	rollbacks      *prometheus.CounterVec
	journalsPosted prometheus.Counter
	payments       *prometheus.CounterVec
	eodRuns        *prometheus.CounterVec
	notifyFailures prometheus.Counter
}

// NewMetrics initialises the registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flourmill_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flourmill_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flourmill_orders_created_total",
			Help: "Orders committed by kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flourmill_order_transitions_total",
			Help: "Order status transitions by kind and action.",
		}, []string{"kind", "action"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flourmill_tx_rollbacks_total",
			Help: "Units of work rolled back by operation.",
		}, []string{"operation"}),
		journalsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flourmill_journals_posted_total",
			Help: "Journal entries written by the posting engine.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flourmill_payments_allocated_total",
			Help: "Payments allocated by party kind and advance classification.",
		}, []string{"party", "advance"}),
		eodRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flourmill_eod_runs_total",
			Help: "End-of-day runs by result.",
		}, []string{"result"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flourmill_notification_failures_total",
			Help: "Notifications that could not be enqueued.",
		}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, m.ordersCreated, m.transitions,
		m.rollbacks, m.journalsPosted, m.payments, m.eodRuns, m.notifyFailures)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// OrderCreated counts a committed order.
func (m *Metrics) OrderCreated(kind string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(kind).Inc()
}

// OrderTransitioned counts a committed status change.
func (m *Metrics) OrderTransitioned(kind, action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, action).Inc()
}

// Rollback counts an aborted unit of work.
func (m *Metrics) Rollback(operation string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(operation).Inc()
}

// JournalPosted counts an inserted journal entry.
func (m *Metrics) JournalPosted() {
	if m == nil {
		return
	}
	m.journalsPosted.Inc()
}

// PaymentAllocated counts a committed payment.
func (m *Metrics) PaymentAllocated(party string, advance bool) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(party, strconv.FormatBool(advance)).Inc()
}

// EODRun counts an end-of-day attempt by result.
func (m *Metrics) EODRun(result string) {
	if m == nil {
		return
	}
	m.eodRuns.WithLabelValues(result).Inc()
}

// NotificationFailed counts a dropped notification.
func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
