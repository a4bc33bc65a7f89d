package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/neodalsi/dalsi/internal/server/generate"
	"github.com/neodalsi/dalsi/internal/logging"
)

// RouterDeps bundles everything NewRouter needs.
type RouterDeps struct {
	Users     UserService
	Plans     PlanSource
	Responder generate.Responder
	Logger    logging.Logger

	// RateLimiter is optional; nil disables rate limiting (tests).
	RateLimiter *RateLimiter

	// Gatherer is optional; nil disables the /metrics endpoint.
	Gatherer prometheus.Gatherer
	Metrics  *Metrics
}

// NewRouter wires the full middleware chain and route table.
//
// Middleware order: request logging -> rate limiting. The health probe and
// the metrics scrape sit outside the rate limiter so monitoring cannot be
// starved out by clients.
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	h := NewHandler(deps.Users, deps.Plans, deps.Responder, deps.Logger)

	r.Use(requestLogger(deps.Logger, deps.Metrics))

	r.Get("/v1/health", h.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", MetricsHandler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/verify", h.Verify)
			r.Post("/refresh", h.Refresh)
		})

		r.Get("/api/plans/{tier}", h.Plan)

		r.Post("/generate", h.Generate)
	})

	return r
}
