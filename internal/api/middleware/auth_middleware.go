package middleware

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	cfg "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/service"
	"github.com/publora/publora/pkg/utils"
)

type AuthMiddleware struct {
	keys   service.ApiKeyService
	users  service.UserService
	config *cfg.Config
}

func NewAuthMiddleware(config *cfg.Config, keys service.ApiKeyService, users service.UserService) *AuthMiddleware {
	return &AuthMiddleware{keys: keys, users: users, config: config}
}

// AuthMiddleware accepts either the session cookie or an API key and
// stores both user_id and company_id on the request for handlers.
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies(m.config.CookieName)
		apiKey := c.Query("api_key")

		if tokenString == "" && apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing API key or session cookie",
			})
		}

		var userID int64
		if apiKey != "" {
			id, err := m.keys.GetUserID(c.Context(), apiKey)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
			userID = id
		} else {
			claims, err := utils.ValidateToken(m.config.SecretKey, tokenString)
			if err != nil {
				c.Cookie(&fiber.Cookie{
					Name:   m.config.CookieName,
					Value:  "",
					Path:   "/",
					MaxAge: -1,
				})

				slog.Info(fmt.Sprintf("token validation failed: %v", err))
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid or expired token",
				})
			}

			id, err := strconv.ParseInt(claims.UserID, 10, 64)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid or expired token",
				})
			}
			userID = id
		}

		user, err := m.users.GetUserInfo(c.Context(), userID)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unknown user",
			})
		}

		c.Locals("user_id", fmt.Sprintf("%d", userID))
		c.Locals("company_id", fmt.Sprintf("%d", user.CompanyID))
		return c.Next()
	}
}
