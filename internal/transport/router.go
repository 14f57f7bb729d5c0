package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/model"
)

// Optimizer runs and tracks optimization requests.
type Optimizer interface {
	Run(ctx context.Context, in model.RunInput) (*model.PipelineRun, error)
	Submit(ctx context.Context, in model.RunInput) (*model.PipelineRun, error)
	Get(ctx context.Context, sessionID string) (*model.PipelineRun, error)
	Cancel(ctx context.Context, sessionID string) (*model.PipelineRun, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Optimizer Optimizer
	Rules     *rules.Holder
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the middleware pipeline and all route
// registrations. Health, readiness, and metrics endpoints skip request
// logging and body limits.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)

	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Gatherer != nil && deps.Config.Observability.Metrics.Enabled {
		r.Handle(deps.Config.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(ContextLogger(logger))
		r.Use(BodyLimit(deps.Config.Server.MaxBodyBytes))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/optimizations", handleOptimize(deps.Optimizer))
		r.Get("/optimizations/{sessionID}", handleGetRun(deps.Optimizer))
		r.Get("/optimizations/{sessionID}/plan", handleGetPlan(deps.Optimizer))
		r.Get("/optimizations/{sessionID}/report", handleGetReport(deps.Optimizer))
		r.Post("/optimizations/{sessionID}/cancel", handleCancel(deps.Optimizer))
		r.Get("/rules", handleListRules(deps.Rules))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "no route for "+r.Method+" "+r.URL.Path)
	})
	return r
}
