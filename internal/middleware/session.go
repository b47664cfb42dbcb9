package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// SessionIdentity reports the signed-in user of the companion process.
type SessionIdentity interface {
	Identity() (userID string, role string, ok bool)
}

// RequireSession rejects requests while nobody is signed in and exposes the
// current identity as the user_id and user_role locals.
func RequireSession(identity SessionIdentity) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, role, ok := identity.Identity()
		if !ok || userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "login required")
		}

		c.Locals("user_id", userID)
		if role := normalizeRoleValue(role); role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	}
}

// CurrentUserID returns the user id set by RequireSession.
func CurrentUserID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}
