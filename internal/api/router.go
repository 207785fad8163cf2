package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/api/middleware"
	"github.com/eldtechnologies/batepapo/internal/chat"
	"github.com/eldtechnologies/batepapo/internal/handlers"
	"github.com/eldtechnologies/batepapo/internal/store"
)

// Options configures optional router features.
type Options struct {
	// RateLimitClient enables rate limiting when set.
	RateLimitClient *redis.Client
	RateLimit       middleware.RateLimiterConfig
	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// name the client. Empty means forwarding headers are ignored.
	TrustedProxies []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, svc *chat.Service, ds store.DataStore, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.ClientIP(opts.TrustedProxies, logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if opts.RateLimitClient != nil {
		limiter := middleware.NewRateLimiter(opts.RateLimitClient, logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	}

	// CORS - browser front ends call from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", handlers.UserHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(svc, ds, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Post("/participants", h.Register)
	r.Get("/participants", h.ListParticipants)
	r.Post("/messages", h.PostMessage)
	r.Get("/messages", h.GetMessages)
	r.Post("/status", h.Status)

	return r
}
