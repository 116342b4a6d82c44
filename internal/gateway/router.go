package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/credits-checkout/internal/auth"
	"github.com/noah-isme/credits-checkout/internal/health"
	"github.com/noah-isme/credits-checkout/internal/obs"
	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/security"
)

// RouterConfig collects what NewRouter mounts. Nil middlewares and handlers
// are skipped.
type RouterConfig struct {
	Service        *Service
	Auth           *auth.Authenticator
	Webhook        Webhook
	Health         health.Handler
	Metrics        http.Handler
	HTTPMetrics    *obs.HTTPMetrics
	Tracing        bool
	CreateLimit    func(http.Handler) http.Handler
	WebhookLimit   func(http.Handler) http.Handler
	AllowedOrigins []string
	Security       security.Headers
	MaxBodyBytes   int64
	Logger         zerolog.Logger
}

// NewRouter builds the gateway HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: cfg.Logger}.Middleware)
	r.Use(cfg.Security.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Crossmint-Signature", "Crossmint-Signature"},
		AllowCredentials: len(cfg.AllowedOrigins) > 0,
		MaxAge:           300,
	}))

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	h := &Handler{Svc: cfg.Service}
	authMiddleware := auth.Middleware{Auth: cfg.Auth}

	r.Get(payment.PathPackages, h.Packages)
	r.Route("/api/payments", func(p chi.Router) {
		webhook := http.Handler(http.HandlerFunc(cfg.Webhook.Handle))
		if cfg.WebhookLimit != nil {
			webhook = cfg.WebhookLimit(webhook)
		}
		p.Method(http.MethodPost, "/webhook", webhook)

		p.Group(func(g chi.Router) {
			g.Use(authMiddleware.RequireAuth)
			create := http.Handler(http.HandlerFunc(h.CreateOrder))
			if cfg.CreateLimit != nil {
				create = cfg.CreateLimit(create)
			}
			g.Method(http.MethodPost, "/crossmint/create-order", create)
			g.Post("/confirm", h.Confirm)
			g.Get("/history", h.History)
			g.Get("/orders/{id}", h.Order)
			g.Get("/credits", h.Balance)
		})
	})
	return r
}
