// handlers/progression_routes.go
package handlers

import (
	"strings"

	"wildlife-challenge-system/middleware"
	"wildlife-challenge-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupProgressionRoutes(secured, admin fiber.Router, progressionService *services.ProgressionService, badgeService *services.BadgeService) {
	secured.Get("/progress", func(c *fiber.Ctx) error {
		prog, err := progressionService.GetProgress(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, "failed to get progress", err)
		}

		return c.JSON(fiber.Map{
			"id":               prog.ID,
			"xp":               prog.TotalXP,
			"level":            prog.Level,
			"rank":             prog.Rank,
			"rank_name":        services.RankName(prog.Rank),
			"total_sightings":  prog.TotalSightings,
			"daily_completed":  prog.DailyCompleted,
			"weekly_completed": prog.WeeklyCompleted,
			"last_level_up_at": prog.LastLevelUpAt,
			"last_rank_up_at":  prog.LastRankUpAt,
		})
	})

	secured.Get("/progress/badges", func(c *fiber.Ctx) error {
		userBadges, err := badgeService.ListUserBadges(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, "failed to get badges", err)
		}

		response := make([]fiber.Map, 0, len(userBadges))
		for _, ub := range userBadges {
			response = append(response, fiber.Map{
				"id":            ub.ID,
				"badge_type_id": ub.BadgeType.ID,
				"code":          ub.BadgeType.Code,
				"name":          ub.BadgeType.Name,
				"description":   ub.BadgeType.Description,
				"icon_url":      ub.BadgeType.IconURL,
				"rarity":        ub.BadgeType.Rarity,
				"awarded_at":    ub.AwardedAt,
			})
		}
		return c.JSON(response)
	})

	admin.Post("/xp/grant", func(c *fiber.Ctx) error {
		type Req struct {
			UserID string `json:"user_id"`
			XP     int64  `json:"xp"`
			Reason string `json:"reason"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON", err.Error())
		}
		if strings.TrimSpace(req.UserID) == "" || req.XP <= 0 {
			return badRequest(c, "user_id and a positive xp are required", "validation failed")
		}
		if len(req.Reason) > 255 {
			return badRequest(c, "reason too long", "max 255 characters")
		}
		if req.Reason == "" {
			req.Reason = "admin grant by " + middleware.UserID(c)
		}

		prog, err := progressionService.Grant(c.UserContext(), req.UserID, req.XP, req.Reason)
		if err != nil {
			return writeError(c, "XP award failed", err)
		}

		return c.JSON(fiber.Map{
			"message":  "XP granted successfully",
			"user_id":  req.UserID,
			"xp":       req.XP,
			"total_xp": prog.TotalXP,
			"level":    prog.Level,
		})
	})
}
