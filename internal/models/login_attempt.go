package models

import "time"

// LoginAttemptRecord is a persisted login attempt used for rate limiting
type LoginAttemptRecord struct {
	ID                string    `db:"id"`
	Email             string    `db:"email"`
	IPAddress         string    `db:"ip_address"`
	UserAgent         string    `db:"user_agent"`
	AttemptTime       time.Time `db:"attempt_time"`
	Success           bool      `db:"success"`
	FailureReason     *string   `db:"failure_reason"`
	DeviceFingerprint string    `db:"device_fingerprint"`
	ExpiresAt         time.Time `db:"expires_at"`
}
