// handlers/sighting_routes.go
package handlers

import (
	"strings"
	"time"

	"wildlife-challenge-system/middleware"
	"wildlife-challenge-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupSightingRoutes exposes the push endpoint used by the sighting service
// once an identification is final.
func SetupSightingRoutes(secured fiber.Router, tracker *services.ProgressTracker) {
	internal := secured.Group("/internal", middleware.RequireRole("service"))

	internal.Post("/sightings/confirmed", func(c *fiber.Ctx) error {
		type Req struct {
			UserID      string     `json:"user_id"`
			AnimalName  string     `json:"animal_name"`
			ConfirmedAt *time.Time `json:"confirmed_at"`
			SightingID  string     `json:"sighting_id"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON", err.Error())
		}
		if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.AnimalName) == "" {
			return badRequest(c, "user_id and animal_name are required", "missing field")
		}

		s := services.Sighting{UserID: req.UserID, AnimalName: req.AnimalName, SightingID: req.SightingID}
		if req.ConfirmedAt != nil {
			s.ConfirmedAt = *req.ConfirmedAt
		}

		transitions, err := tracker.OnSightingConfirmed(c.UserContext(), s)
		if err != nil {
			return writeError(c, "failed to apply sighting", err)
		}
		if transitions == nil {
			transitions = []services.ChallengeTransition{}
		}
		return c.JSON(fiber.Map{"transitions": transitions})
	})
}
