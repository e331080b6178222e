package model

// ValidateRequest is the parsed body of a validation call. AppVersion is
// informational only and never influences the decision.
type ValidateRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required"`
	MachineID  string `json:"machineId"`
	AppVersion string `json:"appVersion"`
}

// ValidateResponse is the wire form of a validation decision. Negative
// decisions carry Error and, for machine conflicts, the MachineBound marker
// so clients can tell "in use elsewhere" from generic invalidity.
type ValidateResponse struct {
	Valid        bool   `json:"valid"`
	UserName     string `json:"userName,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	MachineID    string `json:"machineId,omitempty"`
	Error        string `json:"error,omitempty"`
	MachineBound bool   `json:"machineBound,omitempty"`
}

type ReleaseRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required"`
	MachineID  string `json:"machineId"`
}

type ReleaseResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreateLicenseRequest provisions a new record. LicenseKey is generated when
// absent; ExpiresAt must be RFC 3339 or YYYY-MM-DD, empty for perpetual.
type CreateLicenseRequest struct {
	LicenseKey string `json:"licenseKey"`
	OwnerName  string `json:"ownerName"`
	ExpiresAt  string `json:"expiresAt"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}
