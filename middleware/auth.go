package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"outreachly/config"
	"outreachly/models"
	"outreachly/utils"
)

func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			// Check if it's a Bearer token
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			// Fall back to cookie if header not present
			token = c.Cookies("access_token")
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		// Parse and validate the API token
		claims, err := utils.ParseAPIToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		// Find workspace
		var workspace models.Workspace
		if err := config.DB.First(&workspace, claims.WorkspaceID).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Workspace not found",
			})
		}

		if !workspace.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Workspace is not active",
			})
		}

		// Add workspace to context
		c.Locals("workspace", &workspace)
		c.Locals("workspaceID", workspace.ID)

		return c.Next()
	}
}
