package internal

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"pulse/internal/config"
	"pulse/internal/http"
	"pulse/internal/http/middleware"
	"pulse/internal/pkg/telemetry"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// Events are sent cross-origin from tracked sites.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountAppRoutes mounts all routes with components built from the server's
// own database and a private metrics registry.
func MountAppRoutes(srv *cartridge.Server) {
	components, err := NewComponents(
		config.GetConfig(),
		srv.GetDBManager().GetConnection(),
		srv.GetLogger(),
		telemetry.NewMetrics(prometheus.NewRegistry()),
	)
	if err != nil {
		srv.GetLogger().Error("Failed to build components, routes not mounted", slog.Any("error", err))
		return
	}
	MountRoutes(srv, components)
}

// MountRoutes mounts all application routes using cartridge's route API.
func MountRoutes(srv *cartridge.Server, c *Components) {
	cfg := config.GetConfig()
	logger := srv.GetLogger()

	handlers := &http.Handlers{
		Query:            c.Query,
		Aggregator:       c.Aggregator,
		Metrics:          c.Metrics,
		FingerprintSalt:  cfg.FingerprintSalt(),
		MaxRetentionDays: cfg.RetentionMaxDays,
	}

	// Rate limiting would interfere with tests, so it only applies in production.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 requests per minute per IP
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	requestMetrics := middleware.RequestMetrics(c.Metrics)

	// Ingestion: CORS runs first so 403 and 429 responses carry CORS headers.
	ingestConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{requestMetrics, publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	queryConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{requestMetrics, middleware.QueryParams(logger)},
	}

	adminAPIConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{requestMetrics},
	}

	// === HEALTH AND METRICS ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	prometheusHandler := adaptor.HTTPHandler(c.Metrics.Handler())
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return prometheusHandler(ctx.Ctx)
	})

	// === INGESTION ===
	srv.Post("/api/events/ingest", handlers.IngestAction, ingestConfig)
	srv.Get("/api/events/ingest", http.IngestHealthAction, ingestConfig)
	srv.Options("/api/events/ingest", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, ingestConfig)

	srv.Get("/api/events/query", handlers.EventsQueryAction, queryConfig)

	// === METRICS ===
	srv.Get("/api/metrics/dau", handlers.DailyActiveUsersAction, queryConfig)
	srv.Get("/api/metrics/wau", handlers.WeeklyActiveUsersAction, queryConfig)
	srv.Get("/api/metrics/mau", handlers.MonthlyActiveUsersAction, queryConfig)
	srv.Get("/api/metrics/sessions", handlers.SessionsAction, queryConfig)
	srv.Get("/api/metrics/retention", handlers.RetentionAction, queryConfig)
	srv.Get("/api/metrics/retention-curve", handlers.RetentionCurveAction, queryConfig)
	srv.Get("/api/metrics/funnel", handlers.FunnelAction, queryConfig)
	srv.Get("/api/metrics/top-events", handlers.TopEventsAction, queryConfig)
	srv.Get("/api/metrics/top-pages", handlers.TopPagesAction, queryConfig)
	srv.Get("/api/metrics/top-countries", handlers.TopCountriesAction, queryConfig)
	srv.Get("/api/metrics/top-referrers", handlers.TopReferrersAction, queryConfig)
	srv.Get("/api/metrics/overview", handlers.OverviewAction, queryConfig)
	srv.Get("/api/metrics/stickiness", handlers.StickinessAction, queryConfig)
	srv.Get("/api/metrics/growth", handlers.GrowthAction, queryConfig)
	srv.Get("/api/metrics/engagement", handlers.EngagementAction, queryConfig)

	// === AGGREGATION ===
	srv.Post("/api/aggregations", handlers.AggregationCreateAction, adminAPIConfig)
}
