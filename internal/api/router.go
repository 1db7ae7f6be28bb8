package api

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/printcraft/printcraft/internal/database"
	mw "github.com/printcraft/printcraft/internal/middleware"
	inats "github.com/printcraft/printcraft/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Generation handlers
	GeneratePublic  http.HandlerFunc
	GenerateUser    http.HandlerFunc
	GenerationQuota http.HandlerFunc

	// Image handlers
	UploadImage http.HandlerFunc
	ServeImage  http.HandlerFunc

	ListPrompts http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
	OptionalAuth   func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	TrustedProxies     []netip.Prefix
}

func NewRouter(pool *pgxpool.Pool, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RealIP(cfg.TrustedProxies))
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if pool == nil || database.HealthCheck(r.Context(), pool) != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		// Events are best effort, a broken NATS link degrades but does not fail readiness.
		if natsClient == nil {
			health["nats"] = "not configured"
		} else if !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Stored images; private ones need the owner's token
	r.With(h.OptionalAuth).Get("/images/{type}/{filename}", h.ServeImage)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/prompts", h.ListPrompts)

		r.Route("/generations", func(r chi.Router) {
			r.Post("/public", h.GeneratePublic)
			r.With(h.OptionalAuth).Get("/quota", h.GenerationQuota)
			r.With(h.AuthMiddleware).Post("/", h.GenerateUser)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Post("/images/uploads", h.UploadImage)
		})
	})

	return r
}
