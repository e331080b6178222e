package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"license-validation-service/internal/metrics"
	"license-validation-service/internal/model"
	"license-validation-service/internal/service"
)

var validate = validator.New()

// LicenseHandler wires the license service to the HTTP surface. It owns the
// collaborator concerns the decision core stays free of: request parsing and
// validation, status-code mapping, usage auditing, metrics and the optional
// sheet mirror.
type LicenseHandler struct {
	db        *gorm.DB
	licenses  *service.LicenseService
	usage     *service.UsageService
	sheetSync *service.SheetSyncService
}

func NewLicenseHandler(db *gorm.DB, licenses *service.LicenseService, usage *service.UsageService, sheetSync *service.SheetSyncService) *LicenseHandler {
	return &LicenseHandler{db: db, licenses: licenses, usage: usage, sheetSync: sheetSync}
}

// HandleLicenseValidate decides a validation request. Negative decisions are
// 200 responses with valid:false; only malformed input (400) and store
// faults (503) use error status codes, so clients can tell a license "no"
// from a systemic failure.
func (h *LicenseHandler) HandleLicenseValidate(c *fiber.Ctx) error {
	req := new(model.ValidateRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.ValidateResponse{Error: "invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.ValidateResponse{Error: "licenseKey is required"})
	}

	dec, err := h.licenses.Validate(c.Context(), req.LicenseKey, req.MachineID)
	if err != nil {
		if errors.Is(err, service.ErrEmptyLicenseKey) {
			return c.Status(fiber.StatusBadRequest).JSON(model.ValidateResponse{Error: "licenseKey is required"})
		}
		metrics.StoreFaults.Inc()
		return c.Status(fiber.StatusServiceUnavailable).JSON(model.ValidateResponse{Error: "license store unavailable"})
	}

	outcome := "valid"
	if !dec.Valid {
		outcome = string(dec.Reason)
	}
	metrics.ValidationDecisions.WithLabelValues(outcome).Inc()
	h.usage.Record(model.UsageRecord{
		LicenseKey: req.LicenseKey,
		Action:     "validate",
		Outcome:    outcome,
		MachineID:  req.MachineID,
		AppVersion: req.AppVersion,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	})

	if dec.Valid && h.sheetSync != nil {
		go h.mirrorLicense(req.LicenseKey)
	}

	resp := model.ValidateResponse{
		Valid:     dec.Valid,
		UserName:  dec.OwnerName,
		ExpiresAt: dec.ExpiresAt,
		MachineID: dec.MachineID,
	}
	if !dec.Valid {
		resp.Error = string(dec.Reason)
		resp.MachineBound = dec.MachineBound
	}
	return c.JSON(resp)
}

func (h *LicenseHandler) HandleLicenseRelease(c *fiber.Ctx) error {
	req := new(model.ReleaseRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.ReleaseResponse{Message: "invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.ReleaseResponse{Message: "licenseKey is required"})
	}

	outcome, err := h.licenses.Release(c.Context(), req.LicenseKey, req.MachineID)
	if err != nil {
		if errors.Is(err, service.ErrEmptyLicenseKey) {
			return c.Status(fiber.StatusBadRequest).JSON(model.ReleaseResponse{Message: "licenseKey is required"})
		}
		metrics.StoreFaults.Inc()
		return c.Status(fiber.StatusServiceUnavailable).JSON(model.ReleaseResponse{Message: "license store unavailable"})
	}

	result := "released"
	if !outcome.Success {
		result = string(outcome.Reason)
	}
	metrics.ReleaseOutcomes.WithLabelValues(result).Inc()
	h.usage.Record(model.UsageRecord{
		LicenseKey: req.LicenseKey,
		Action:     "release",
		Outcome:    result,
		MachineID:  req.MachineID,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	})

	if outcome.Success && h.sheetSync != nil {
		go h.mirrorLicense(req.LicenseKey)
	}

	if !outcome.Success {
		return c.JSON(model.ReleaseResponse{Success: false, Message: string(outcome.Reason)})
	}
	return c.JSON(model.ReleaseResponse{Success: true, Message: "license released"})
}

// HandleLicenseCreate provisions a new record (administrative).
func (h *LicenseHandler) HandleLicenseCreate(c *fiber.Ctx) error {
	req := new(model.CreateLicenseRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.ExpiresAt != "" {
		if _, ok := service.ParseExpiration(req.ExpiresAt); !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "expiresAt must be RFC 3339 or YYYY-MM-DD",
			})
		}
	}

	key := req.LicenseKey
	if key == "" {
		key = uuid.NewString()
	}

	var existing model.License
	err := h.db.Where("license_key = ?", key).First(&existing).Error
	if err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "license key already exists",
		})
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create license",
		})
	}

	lic := &model.License{
		LicenseKey: key,
		OwnerName:  req.OwnerName,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := h.db.Create(lic).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create license",
		})
	}

	if h.sheetSync != nil {
		go h.mirrorLicense(key)
	}

	return c.Status(fiber.StatusCreated).JSON(lic)
}

func (h *LicenseHandler) HandleGetAllLicenses(c *fiber.Ctx) error {
	var licenses []model.License
	if err := h.db.Find(&licenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list licenses",
		})
	}

	return c.JSON(fiber.Map{
		"licenses": licenses,
	})
}

func (h *LicenseHandler) HandleGetLicense(c *fiber.Ctx) error {
	key := c.Params("key")

	var lic model.License
	if err := h.db.Where("license_key = ?", key).First(&lic).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "license not found",
		})
	}

	return c.JSON(lic)
}

func (h *LicenseHandler) HandleLicenseDelete(c *fiber.Ctx) error {
	key := c.Params("key")

	var lic model.License
	if err := h.db.Where("license_key = ?", key).First(&lic).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "license not found",
		})
	}

	if err := h.db.Delete(&lic).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete license",
		})
	}

	return c.JSON(fiber.Map{
		"message": "license deleted",
	})
}

// HandleBindingReset clears a binding administratively, bypassing the
// machine check the public release endpoint applies.
func (h *LicenseHandler) HandleBindingReset(c *fiber.Ctx) error {
	key := c.Params("key")

	var lic model.License
	if err := h.db.Where("license_key = ?", key).First(&lic).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "license not found",
		})
	}

	if err := h.db.Model(&model.License{}).
		Where("license_key = ?", key).
		Update("active_machine_id", "").Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to reset binding",
		})
	}

	h.usage.Record(model.UsageRecord{
		LicenseKey: key,
		Action:     "reset",
		Outcome:    "released",
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	})

	if h.sheetSync != nil {
		go h.mirrorLicense(key)
	}

	return c.JSON(fiber.Map{
		"message": "binding reset",
	})
}

func (h *LicenseHandler) HandleLicenseUsage(c *fiber.Ctx) error {
	key := c.Params("key")
	limit := c.QueryInt("limit", 20)

	usages, err := h.usage.Recent(c.Context(), key, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to query usage records",
		})
	}

	return c.JSON(fiber.Map{
		"usages": usages,
	})
}

// mirrorLicense refetches the record and pushes it to the sheet. Runs in its
// own goroutine after the response, so it must not touch the fiber context.
func (h *LicenseHandler) mirrorLicense(key string) {
	var lic model.License
	if err := h.db.WithContext(context.Background()).
		Where("license_key = ?", key).First(&lic).Error; err != nil {
		return
	}
	if err := h.sheetSync.SyncLicense(&lic); err != nil {
		slog.Warn("sheet mirror failed", "license_key", key, "error", err)
	}
}
