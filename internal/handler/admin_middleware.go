package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/signature"
)

// RequireAdminToken guards the admin API surface with a shared-secret header.
// The comparison is constant time; an empty configured token keeps every
// request out.
func RequireAdminToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !signature.VerifyHeaderToken(token, c.Get("X-Admin-Token")) {
			log.Warn().
				Str("request_id", c.GetRespHeader("X-Request-ID")).
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("admin request rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}
