package model

import (
	"time"

	"gorm.io/gorm"
)

// License is one provisioned license record. ExpiresAt is kept as text
// (RFC 3339 or YYYY-MM-DD, empty means perpetual) so a corrupt stored value
// can be detected and reported instead of silently failing the row scan.
// ActiveMachineID holds the single machine currently bound to the license,
// empty when unbound.
type License struct {
	gorm.Model
	LicenseKey      string    `json:"license_key" gorm:"uniqueIndex;not null"`
	OwnerName       string    `json:"owner_name"`
	ExpiresAt       string    `json:"expires_at"`
	ActiveMachineID string    `json:"active_machine_id"`
	LastValidatedAt time.Time `json:"last_validated_at"`
}
