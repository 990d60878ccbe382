// handlers/router.go
package handlers

import (
	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/metrics"
	"wildlife-challenge-system/middleware"
	"wildlife-challenge-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	ServiceToken string
	Challenges   *ChallengeHandler
	Manifests    *services.ManifestStore
	Tracker      *services.ProgressTracker
	Progression  *services.ProgressionService
	Badges       *services.BadgeService
	Metrics      *metrics.Manager
	Log          *logger.Logger
}

// Register mounts every route. Health and metrics stay outside the gateway check.
func Register(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	// 🔐❗ Everything else must come from the Gateway
	app.Use(middleware.GatewayAuthMiddleware(d.ServiceToken, d.Log))

	secured := app.Group("/s", middleware.UserContextMiddleware(d.Log))
	admin := secured.Group("/admin", middleware.RequireRole("admin"))

	SetupChallengeRoutes(secured, d.Challenges)
	SetupSightingRoutes(secured, d.Tracker)
	SetupProgressionRoutes(secured, admin, d.Progression, d.Badges)
	SetupManifestRoutes(admin, d.Manifests)
}
