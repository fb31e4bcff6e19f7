package handlers

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	cfg "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/service"
	"github.com/publora/publora/pkg/utils"
)

type PlatformHandler struct {
	ps     service.PlatformService
	ig     service.InstagramService
	tt     service.TiktokService
	yt     service.YoutubeService
	users  service.UserService
	config *cfg.Config
}

func NewPlatformHandler(ps service.PlatformService, ig service.InstagramService, tt service.TiktokService, yt service.YoutubeService, users service.UserService, config *cfg.Config) *PlatformHandler {
	return &PlatformHandler{
		ps:     ps,
		ig:     ig,
		tt:     tt,
		yt:     yt,
		users:  users,
		config: config,
	}
}

func (h *PlatformHandler) AddSocialAccount(c *fiber.Ctx) error {
	authURL := h.ps.GetAuthURL(c.Context(), c.Params("platform"), c.Query("state"))
	return c.Redirect(authURL)
}

// CallbackHandler finishes the connect flow. The state parameter is the
// session token issued at login; it identifies which company the new
// account belongs to.
func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	platform := c.Params("platform")

	claims, err := utils.ValidateToken(h.config.SecretKey, state)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to validate user",
		})
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to validate user",
		})
	}

	user, err := h.users.GetUserInfo(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to validate user",
		})
	}
	companyID := user.CompanyID

	switch platform {
	case models.PlatformInstagram:
		err = h.ig.InstagramCallback(c.Context(), code, companyID)
	case models.PlatformTiktok:
		err = h.tt.TiktokCallback(c.Context(), code, companyID)
	case models.PlatformYoutube:
		err = h.yt.YoutubeCallback(c.Context(), code, companyID)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown platform",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	redirectURL := fmt.Sprintf("%s/dashboard/accounts", h.config.FrontendURL)
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)

	accountList, err := h.ps.List(c.Context(), companyID)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "failed to fetch social accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(accountList)
}

func (h *PlatformHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	accountID := c.QueryInt("id", 0)

	err := h.ps.Delete(c.Context(), companyID, int64(accountID))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "unable to delete social account",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
