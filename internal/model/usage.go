package model

import (
	"time"

	"gorm.io/gorm"
)

// UsageRecord is an audit row written by the transport layer after each
// validation or release decision.
type UsageRecord struct {
	gorm.Model
	LicenseKey string    `json:"license_key" gorm:"index"`
	Action     string    `json:"action"` // "validate", "release", "reset"
	Outcome    string    `json:"outcome"`
	MachineID  string    `json:"machine_id"`
	AppVersion string    `json:"app_version"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Timestamp  time.Time `json:"timestamp"`
}
