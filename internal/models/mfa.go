package models

import (
	"time"
)

// BackupCode is one bcrypt-hashed single-use recovery code
type BackupCode struct {
	ID         string
	IdentityID string
	CodeHash   string
	UsedAt     *time.Time // nil = unused
	CreatedAt  time.Time
}

func (c *BackupCode) IsUsed() bool {
	return c.UsedAt != nil
}

// BackupCodeSlot describes a stored code without revealing it
type BackupCodeSlot struct {
	Index  int        `json:"index"`
	Used   bool       `json:"used"`
	UsedAt *time.Time `json:"usedAt,omitempty"`
}

// BackupCodeStatus summarises the current batch
type BackupCodeStatus struct {
	Codes     []BackupCodeSlot `json:"codes"`
	Remaining int              `json:"remaining"`
}

// MFAEnrollment is returned when enrollment starts. Secret is shown once.
type MFAEnrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode"`
}

// MFAAttempt is a failed second-factor verification used for lockout counting
type MFAAttempt struct {
	ID          string
	IdentityID  string
	IPAddress   string
	AttemptedAt time.Time
}
