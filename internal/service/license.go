package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"license-validation-service/internal/model"
)

// Reason classifies a negative decision. The values double as the error
// string returned to clients.
type Reason string

const (
	ReasonNotFound          Reason = "license not found"
	ReasonMachineConflict   Reason = "machine conflict"
	ReasonExpired           Reason = "expired"
	ReasonCorruptExpiration Reason = "invalid expiration data"
	ReasonNotBound          Reason = "bound to another machine"
)

// ErrEmptyLicenseKey is returned before any store access when the license
// key is empty after trimming.
var ErrEmptyLicenseKey = errors.New("license key must not be empty")

// Decision is the structured result of a validation. A negative decision is
// a normal result, not an error; the error return of Validate is reserved
// for store faults.
type Decision struct {
	Valid        bool
	Reason       Reason
	OwnerName    string
	ExpiresAt    string // RFC 3339, empty for perpetual licenses
	MachineID    string
	MachineBound bool
}

// Outcome is the structured result of a release.
type Outcome struct {
	Success bool
	Reason  Reason
}

// expirationLayouts are the formats accepted in stored expiration text.
var expirationLayouts = []string{time.RFC3339, "2006-01-02"}

// LicenseService implements the validation and release decision procedures.
// It is stateless between calls; all state lives in the store, and the
// read-decide-write race between concurrent validations is settled by a
// conditional update there, so it stays correct when several service
// instances share one database.
type LicenseService struct {
	db      *gorm.DB
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewLicenseService(db *gorm.DB, timeout time.Duration, logger *slog.Logger) *LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseService{db: db, timeout: timeout, logger: logger, now: time.Now}
}

// Validate decides whether licenseKey is usable by machineID and, when it
// is, binds the machine to the license. Re-validation by the already-bound
// machine succeeds and rewrites the same binding.
func (s *LicenseService) Validate(ctx context.Context, licenseKey, machineID string) (Decision, error) {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return Decision{}, ErrEmptyLicenseKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var lic model.License
	err := s.db.WithContext(ctx).Where("license_key = ?", licenseKey).First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Decision{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("license lookup: %w", err)
	}

	// The binding check runs before the expiration check so a license
	// already in use elsewhere reports the conflict rather than its expiry.
	if lic.ActiveMachineID != "" && lic.ActiveMachineID != machineID {
		return Decision{Reason: ReasonMachineConflict, MachineBound: true}, nil
	}

	var expiresAt time.Time
	if lic.ExpiresAt != "" {
		parsed, ok := ParseExpiration(lic.ExpiresAt)
		if !ok {
			s.logger.Warn("license has unparseable expiration",
				"license_key", licenseKey, "expires_at", lic.ExpiresAt)
			return Decision{Reason: ReasonCorruptExpiration}, nil
		}
		if parsed.Before(s.now()) {
			return Decision{Reason: ReasonExpired}, nil
		}
		expiresAt = parsed
	}

	bound, err := s.bindMachine(ctx, licenseKey, machineID)
	if err != nil {
		return Decision{}, err
	}
	if !bound {
		// Lost the race against a concurrent validation from another machine.
		return Decision{Reason: ReasonMachineConflict, MachineBound: true}, nil
	}

	dec := Decision{Valid: true, OwnerName: lic.OwnerName, MachineID: machineID}
	if lic.ExpiresAt != "" {
		dec.ExpiresAt = expiresAt.Format(time.RFC3339)
	}
	return dec, nil
}

// bindMachine performs the conditional write that serializes concurrent
// validations per license key: the update only applies while the license is
// unbound or already bound to the same machine, so of N racing validations
// exactly one machine wins.
func (s *LicenseService) bindMachine(ctx context.Context, licenseKey, machineID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.License{}).
		Where("license_key = ? AND (active_machine_id = '' OR active_machine_id = ?)", licenseKey, machineID).
		Updates(map[string]interface{}{
			"active_machine_id": machineID,
			"last_validated_at": s.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("machine binding: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Release clears the machine binding of licenseKey. With a machineID it
// refuses to release a binding held by a different machine; without one it
// clears unconditionally (see DESIGN.md on this policy). Releasing an
// already-unbound license succeeds.
func (s *LicenseService) Release(ctx context.Context, licenseKey, machineID string) (Outcome, error) {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return Outcome{}, ErrEmptyLicenseKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var lic model.License
	err := s.db.WithContext(ctx).Where("license_key = ?", licenseKey).First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Outcome{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("license lookup: %w", err)
	}

	if machineID != "" && lic.ActiveMachineID != "" && lic.ActiveMachineID != machineID {
		return Outcome{Reason: ReasonNotBound}, nil
	}

	q := s.db.WithContext(ctx).Model(&model.License{})
	if machineID == "" {
		q = q.Where("license_key = ?", licenseKey)
	} else {
		q = q.Where("license_key = ? AND (active_machine_id = '' OR active_machine_id = ?)", licenseKey, machineID)
	}
	res := q.Update("active_machine_id", "")
	if res.Error != nil {
		return Outcome{}, fmt.Errorf("binding release: %w", res.Error)
	}
	if machineID != "" && res.RowsAffected == 0 {
		// A concurrent validation bound another machine between the read
		// and the write.
		return Outcome{Reason: ReasonNotBound}, nil
	}

	return Outcome{Success: true}, nil
}

// ParseExpiration parses stored or submitted expiration text.
func ParseExpiration(raw string) (time.Time, bool) {
	for _, layout := range expirationLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
