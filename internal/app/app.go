package app

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"botwave-web/internal/handlers"
	"botwave-web/internal/upstream"
	u "botwave-web/internal/utils"
)

// SetupApp creates and configures a new Fiber app instance. rdb may be nil
// (stats disabled); a nil fetcher means the configured upstream over HTTP.
func SetupApp(cfg u.Config, rdb *redis.Client, fetcher upstream.Fetcher) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    code,
					"message": msg,
				},
			})
		},
	})

	RegisterMiddleware(app, cfg)
	RegisterRoutes(app, cfg, rdb, fetcher)

	// Everything unmatched, including missing static files, gets a JSON 404.
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts the proxied endpoints, the ops endpoints and the
// optional static site.
func RegisterRoutes(app *fiber.App, cfg u.Config, rdb *redis.Client, fetcher upstream.Fetcher) {
	var stats handlers.StatsRecorder
	if cfg.Cache.StatsEnabled && rdb != nil {
		stats = handlers.NewRedisStats(rdb)
	}
	svc := handlers.NewProxyService(cfg, fetcher, stats)

	app.All("/api/latestpro", svc.HandleLatestVersion)
	app.All("/uninstall", svc.HandleUninstallScript)

	v1 := app.Group("/v1")
	v1.Get("/stats", svc.HandleStats)
	v1.Get("/monitor", monitor.New())

	if cfg.Site.Dir != "" {
		app.Static("/", cfg.Site.Dir, fiber.Static{
			Compress: true,
			Index:    "index.html",
		})
		u.Info("Serving static site", "dir", cfg.Site.Dir)
	}
}
