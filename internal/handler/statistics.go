package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"license-validation-service/internal/model"
	"license-validation-service/internal/service"
)

type licenseStatistics struct {
	Total     int64 `json:"total"`
	Bound     int64 `json:"bound"`
	Perpetual int64 `json:"perpetual"`
	Expired   int64 `json:"expired"`
	Corrupt   int64 `json:"corrupt"`
}

// HandleLicenseStatistics reports record counts for the admin dashboard.
func (h *LicenseHandler) HandleLicenseStatistics(c *fiber.Ctx) error {
	var stats licenseStatistics

	if err := h.db.Model(&model.License{}).Count(&stats.Total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to count licenses",
		})
	}

	if err := h.db.Model(&model.License{}).
		Where("active_machine_id <> ''").Count(&stats.Bound).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to count bound licenses",
		})
	}

	if err := h.db.Model(&model.License{}).
		Where("expires_at = ''").Count(&stats.Perpetual).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to count perpetual licenses",
		})
	}

	// Expiration text is free-form enough that the comparison happens here,
	// not in SQL.
	var expirations []string
	if err := h.db.Model(&model.License{}).
		Where("expires_at <> ''").Pluck("expires_at", &expirations).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read expirations",
		})
	}

	now := time.Now()
	for _, raw := range expirations {
		t, ok := service.ParseExpiration(raw)
		if !ok {
			stats.Corrupt++
			continue
		}
		if t.Before(now) {
			stats.Expired++
		}
	}

	return c.JSON(stats)
}
