package handlers

import (
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewApp builds the HTTP surface: health, manual trigger and /metrics
// served from registry.
func NewApp(health *HealthHandler, trigger *TriggerHandler, registry *prometheus.Registry, log zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "remindengine",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())

	if registry != nil {
		prom := fiberprometheus.NewWithRegistry(registry, "remindengine", "http", "", nil)
		app.Use(prom.Middleware)
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	app.Get("/health", health.Handle)
	app.Post("/trigger", trigger.Trigger)
	return app
}
