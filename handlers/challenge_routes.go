// handlers/challenge_routes.go
package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"wildlife-challenge-system/middleware"
	"wildlife-challenge-system/models"
	"wildlife-challenge-system/services"

	"github.com/gofiber/fiber/v2"
)

// ChallengeView is the client shape of a UserChallenge.
type ChallengeView struct {
	ID        string                   `json:"id"`
	RegionKey string                   `json:"region_key"`
	Location  string                   `json:"location"`
	Daily     *models.ChallengeSection `json:"daily"`
	Weekly    *models.ChallengeSection `json:"weekly"`
}

func newChallengeView(uc *models.UserChallenge) *ChallengeView {
	if uc == nil {
		return nil
	}
	return &ChallengeView{
		ID:        uc.ID,
		RegionKey: uc.RegionKey,
		Location:  uc.Location,
		Daily:     uc.Section(models.ChallengeDaily),
		Weekly:    uc.Section(models.ChallengeWeekly),
	}
}

type ChallengeHandler struct {
	Keyer       *services.RegionKeyer
	Store       *services.UserChallengeStore
	DefaultZone *time.Location
}

func SetupChallengeRoutes(secured fiber.Router, h *ChallengeHandler) {
	secured.Get("/challenges", h.getOrRefresh)
	secured.Get("/challenges/active", h.getActive)
}

func (h *ChallengeHandler) getOrRefresh(c *fiber.Ctx) error {
	lat, errLat := parseCoordinate(c.Query("lat"))
	lon, errLon := parseCoordinate(c.Query("lon"))
	if errLat != nil || errLon != nil {
		return writeError(c, "invalid location", fmt.Errorf("%w: lat and lon query parameters must be numbers", services.ErrInvalidLocation))
	}

	loc := h.DefaultZone
	if tz := strings.TrimSpace(c.Query("tz")); tz != "" {
		zone, err := time.LoadLocation(tz)
		if err != nil {
			return badRequest(c, "invalid timezone", err.Error())
		}
		loc = zone
	}

	region, err := h.Keyer.Resolve(c.UserContext(), lat, lon)
	if err != nil {
		return writeError(c, "invalid location", err)
	}

	uc, err := h.Store.GetOrRefresh(c.UserContext(), middleware.UserID(c), region, loc)
	if err != nil {
		return writeError(c, "failed to load challenges", err)
	}
	return c.JSON(newChallengeView(uc))
}

func (h *ChallengeHandler) getActive(c *fiber.Ctx) error {
	uc, err := h.Store.GetActiveOnly(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return writeError(c, "failed to load active challenges", err)
	}
	// No live challenge is a normal state, not an error.
	return c.JSON(fiber.Map{"challenge": newChallengeView(uc)})
}

func parseCoordinate(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("missing")
	}
	return strconv.ParseFloat(raw, 64)
}
