package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"formaos-compliance/internal/api/handlers"
	apimiddleware "formaos-compliance/internal/api/middleware"
	"formaos-compliance/internal/config"
	"formaos-compliance/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config    config.Config
	handlers  *handlers.Handlers
	limits    apimiddleware.RateLimitStore
	websocket http.HandlerFunc
	logger    *logger.Logger
}

// NewRouter creates a new Router instance. limits may be nil when Redis is
// disabled; ws may be nil when streaming is off.
func NewRouter(cfg config.Config, h *handlers.Handlers, limits apimiddleware.RateLimitStore, ws http.HandlerFunc, log *logger.Logger) *Router {
	return &Router{
		config:    cfg,
		handlers:  h,
		limits:    limits,
		websocket: ws,
		logger:    log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)
	})

	// Event stream. Long-lived, so it sits outside the request timeout.
	if r.websocket != nil {
		router.Group(func(ws chi.Router) {
			ws.Use(apimiddleware.APIKeyAuth(r.config.Auth.APISecret))
			ws.Get("/ws", r.websocket)
		})
	}

	// API v1 routes (authenticated)
	router.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(60 * time.Second))
		api.Use(apimiddleware.APIKeyAuth(r.config.Auth.APISecret))

		if r.config.RateLimit.Enabled && r.limits != nil {
			api.Use(apimiddleware.RateLimiter(r.limits, r.config.RateLimit, r.logger))
		}

		// Framework catalog
		api.Route("/frameworks", func(fw chi.Router) {
			fw.Get("/", r.handlers.Frameworks.List)
			fw.Get("/{slug}/domains", r.handlers.Frameworks.Domains)
			fw.Get("/{slug}/controls", r.handlers.Frameworks.Controls)
			fw.Get("/{slug}/mappings", r.handlers.Frameworks.Mappings)
			fw.Get("/{slug}/related/{code}", r.handlers.Frameworks.Related)
		})

		// Organization compliance
		api.Route("/orgs/{orgID}", func(org chi.Router) {
			org.Post("/frameworks/{framework}/enable", r.handlers.Orgs.Enable)
			org.Post("/frameworks/{framework}/provision", r.handlers.Orgs.Provision)
			org.Post("/frameworks/{framework}/evaluate", r.handlers.Orgs.Evaluate)
			org.Get("/compliance/snapshot", r.handlers.Orgs.Snapshot)
			org.Get("/compliance/readiness", r.handlers.Orgs.Readiness)
		})

		// Pack administration
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(apimiddleware.AdminAuth(r.config.Auth.AdminSecret))

			admin.Post("/packs", r.handlers.Packs.Load)
			admin.Post("/packs/install", r.handlers.Packs.Install)
			admin.Post("/frameworks/{slug}/sync", r.handlers.Packs.Sync)
		})
	})

	return router
}
