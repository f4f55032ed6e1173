package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mantis/core"
)

// Service is the settlement surface the API exposes. Both *core.Service and
// the command bus satisfy it.
type Service interface {
	CalculateReconciliation(ctx context.Context, reconciliationID string) (core.ReconciliationTotals, error)
	GetReconciliation(ctx context.Context, reconciliationID string) (core.ReconciliationRecord, error)
	ProcessPendingWebhooks(ctx context.Context) (core.ProcessResult, error)
	PublishWebhookEvent(ctx context.Context, eventType string, payload []byte) (core.PublishResult, error)
	RedeliverWebhook(ctx context.Context, deliveryID string) (core.WebhookDelivery, error)
	ListWebhookDeliveries(ctx context.Context, filter core.DeliveryFilter) (core.DeliveryPage, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, actor core.Actor, action core.Action, resource core.Resource) error
}

type HealthCheck func(ctx context.Context) error

type Option func(*routerConfig)

type routerConfig struct {
	logger  core.Logger
	metrics http.Handler
	health  HealthCheck
	jobs    core.JobEnqueuer
}

func WithLogger(logger core.Logger) Option {
	return func(cfg *routerConfig) {
		cfg.logger = logger
	}
}

// WithMetricsHandler mounts the handler at GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.metrics = handler
	}
}

// WithJobEnqueuer lets callers pass ?async=true to queue reconcile and
// process requests for the background runner instead of running them inline.
func WithJobEnqueuer(jobs core.JobEnqueuer) Option {
	return func(cfg *routerConfig) {
		cfg.jobs = jobs
	}
}

func WithHealthCheck(check HealthCheck) Option {
	return func(cfg *routerConfig) {
		cfg.health = check
	}
}

// NewRouter creates the chi router with every settlement route mounted.
func NewRouter(service Service, authorizer Authorizer, opts ...Option) http.Handler {
	cfg := routerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = glog.Nop()
	}
	h := &Handlers{
		service:    service,
		authorizer: authorizer,
		logger:     cfg.logger,
		health:     cfg.health,
		jobs:       cfg.jobs,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Post("/payments/reconcile", h.Reconcile)
		r.Get("/reconciliations/{id}", h.GetReconciliation)

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/process", h.ProcessWebhooks)
			r.Post("/events", h.PublishEvent)
			r.Get("/deliveries", h.ListDeliveries)
			r.Post("/deliveries/{id}/redeliver", h.Redeliver)
		})
	})
	return r
}

func requestLogger(logger core.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startedAt := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(startedAt).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
