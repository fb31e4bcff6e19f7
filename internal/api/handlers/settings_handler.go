package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/publora/publora/internal/service"
	"github.com/publora/publora/internal/transfer"
)

type SettingsHandler struct {
	s service.SettingsService
}

func NewSettingsHandler(service service.SettingsService) *SettingsHandler {
	return &SettingsHandler{s: service}
}

func (h *SettingsHandler) GetSettingsInfo(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)

	settingsInfo, err := h.s.GetSettingsInfo(c.Context(), companyID)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "unable to find settings for given company",
		})
	}

	return c.JSON(settingsInfo)
}

func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)

	var settings transfer.SettingsUpdate
	err := c.BodyParser(&settings)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to parse json",
		})
	}

	err = h.s.UpdateSettings(c.Context(), companyID, settings.Timezone, settings.DefaultFirstComment)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "unable to update settings",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
