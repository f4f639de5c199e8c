package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/healthtrack/symptomtracker/internal/database"
	mw "github.com/healthtrack/symptomtracker/internal/middleware"
	inats "github.com/healthtrack/symptomtracker/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Conversation
	SendMessage http.HandlerFunc

	// Audit trail of the caller
	ListAuditLogs http.HandlerFunc

	// Admin
	ClearEmbeddings http.HandlerFunc

	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	MessageRateLimiter func(http.Handler) http.Handler
}

// Probes are the dependencies checked by the readiness endpoint. Nil
// entries are reported as "not configured".
type Probes struct {
	DB    *pgxpool.Pool
	NATS  *inats.Client
	Redis redis.Cmdable
}

func NewRouter(probes Probes, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
			"redis":    "healthy",
		}
		status := http.StatusOK
		degrade := func(component string) {
			health[component] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		switch {
		case probes.DB == nil:
			health["database"] = "not configured"
		case database.HealthCheck(r.Context(), probes.DB) != nil:
			degrade("database")
		}

		switch {
		case probes.NATS == nil:
			health["nats"] = "not configured"
		case !probes.NATS.Healthy():
			degrade("nats")
		}

		// Redis is reported but never changes the status code.
		switch {
		case probes.Redis == nil:
			health["redis"] = "not configured"
		case probes.Redis.Ping(r.Context()).Err() != nil:
			health["redis"] = "unhealthy"
			if health["status"] == "healthy" {
				health["status"] = "degraded"
			}
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/conversations", func(r chi.Router) {
				if cfg.MessageRateLimiter != nil {
					r.Use(cfg.MessageRateLimiter)
				}
				r.Post("/messages", h.SendMessage)
			})

			r.Get("/audit", h.ListAuditLogs)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.AdminMiddleware)
				r.Delete("/embeddings", h.ClearEmbeddings)
			})
		})
	})

	return r
}
