package handlers

import (
	"errors"

	"wildlife-challenge-system/services"

	"github.com/gofiber/fiber/v2"
)

// writeError maps service errors onto HTTP statuses with the usual
// {"error", "cause"} body.
func writeError(c *fiber.Ctx, msg string, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidLocation), errors.Is(err, services.ErrUnknownChallengeKind),
		errors.Is(err, services.ErrInvalidSighting):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrManifestNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrManifestGenerationFailed):
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"cause": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg, cause string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"cause": cause,
	})
}
