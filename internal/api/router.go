// Package api assembles the fiber application: middleware, routes and the
// websocket endpoint.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/cot-reflect/backend/internal/api/handlers"
	"github.com/cot-reflect/backend/internal/metrics"
	"github.com/cot-reflect/backend/internal/middleware/ratelimit"
	"github.com/cot-reflect/backend/internal/middleware/security"
	"github.com/cot-reflect/backend/internal/middleware/validation"
	"github.com/cot-reflect/backend/pkg/config"
)

type Deps struct {
	Runner     handlers.Runner
	Snapshots  handlers.SnapshotService
	Evaluator  handlers.EvaluationService
	Models     handlers.ModelLister
	Extractor  handlers.Extractor
	Checks     map[string]handlers.Pinger
	Sampling   handlers.Sampling
	Validation validation.Config
	// RateLimiter guards the model-backed routes. Nil disables limiting.
	RateLimiter *ratelimit.RateLimiter
	// AllowedOrigins feeds CORS and the content security policy; empty
	// allows any origin.
	AllowedOrigins []string
	// RequestLog enables fiber's access log middleware.
	RequestLog bool
}

func NewApp(cfg config.ServerConfig, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "cot-reflect",
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
	})

	origins := "*"
	if len(deps.AllowedOrigins) > 0 {
		origins = strings.Join(deps.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	if deps.RequestLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: deps.AllowedOrigins,
		IsDevelopment:  cfg.Host == "localhost" || cfg.Host == "127.0.0.1",
	}))

	limit := func(c *fiber.Ctx) error { return c.Next() }
	if deps.RateLimiter != nil {
		limit = deps.RateLimiter.Middleware()
	}

	healthHandler := handlers.NewHealthHandler(deps.Models, deps.Checks)
	reflectHandler := handlers.NewReflectHandler(deps.Runner, deps.Snapshots, deps.Sampling)
	snapshotHandler := handlers.NewSnapshotHandler(deps.Snapshots, deps.Evaluator)
	evaluationHandler := handlers.NewEvaluationHandler(deps.Evaluator)
	documentHandler := handlers.NewDocumentHandler(deps.Extractor)
	wsHandler := handlers.NewWebSocketHandler(reflectHandler)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1", validation.Middleware(deps.Validation))

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)
	api.Get("/models", healthHandler.Models)

	api.Post("/reflect", limit, reflectHandler.HandleReflect)
	api.Post("/documents/extract", documentHandler.Extract)

	api.Get("/snapshots", snapshotHandler.List)
	api.Post("/snapshots", snapshotHandler.Create)
	api.Get("/snapshots/export", snapshotHandler.Export)
	api.Get("/snapshots/:id", snapshotHandler.Get)
	api.Delete("/snapshots/:id", snapshotHandler.Delete)
	api.Get("/snapshots/:id/evaluations", snapshotHandler.Evaluations)

	api.Post("/evaluations", limit, evaluationHandler.Create)
	api.Get("/evaluations/:id", evaluationHandler.Get)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/reflect", limit, websocket.New(wsHandler.HandleConnection))

	return app
}
