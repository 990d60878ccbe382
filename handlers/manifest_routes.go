// handlers/manifest_routes.go
package handlers

import (
	"wildlife-challenge-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupManifestRoutes registers the admin manifest maintenance endpoints.
func SetupManifestRoutes(admin fiber.Router, store *services.ManifestStore) {
	admin.Get("/manifests", func(c *fiber.Ctx) error {
		all, err := store.ListAll(c.UserContext())
		if err != nil {
			return writeError(c, "failed to list manifests", err)
		}
		return c.JSON(fiber.Map{"manifests": all, "count": len(all)})
	})

	admin.Get("/manifests/:regionKey", func(c *fiber.Ctx) error {
		m, err := store.Get(c.UserContext(), c.Params("regionKey"))
		if err != nil {
			return writeError(c, "failed to get manifest", err)
		}
		return c.JSON(m)
	})

	admin.Post("/manifests/:regionKey/regenerate", func(c *fiber.Ctx) error {
		m, err := store.Regenerate(c.UserContext(), c.Params("regionKey"))
		if err != nil {
			return writeError(c, "failed to regenerate manifest", err)
		}
		return c.JSON(m)
	})

	admin.Delete("/manifests/:regionKey", func(c *fiber.Ctx) error {
		if err := store.DeleteOne(c.UserContext(), c.Params("regionKey")); err != nil {
			return writeError(c, "failed to delete manifest", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Delete("/manifests", func(c *fiber.Ctx) error {
		n, err := store.DeleteAll(c.UserContext())
		if err != nil {
			return writeError(c, "failed to clear manifests", err)
		}
		return c.JSON(fiber.Map{"deleted": n})
	})
}
