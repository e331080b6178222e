package service

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"license-validation-service/internal/model"
)

// UsageService records and queries per-request audit rows. Recording is
// best-effort and happens in the transport layer after the decision, so the
// decision procedure itself never writes on a failure path.
type UsageService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewUsageService(db *gorm.DB, logger *slog.Logger) *UsageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageService{db: db, logger: logger}
}

func (u *UsageService) Record(rec model.UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := u.db.Create(&rec).Error; err != nil {
		u.logger.Error("recording usage failed",
			"license_key", rec.LicenseKey, "action", rec.Action, "error", err)
	}
}

// Recent returns the newest usage rows for a license key, capped at limit.
func (u *UsageService) Recent(ctx context.Context, licenseKey string, limit int) ([]model.UsageRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var records []model.UsageRecord
	err := u.db.WithContext(ctx).
		Where("license_key = ?", licenseKey).
		Order("timestamp desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
