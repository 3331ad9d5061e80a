package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLoginSuccess       = "login_success"
	EventLoginFailed        = "login_failed"
	EventLoginMFAChallenge  = "login_mfa_challenge"
	EventLoginRotation      = "login_password_rotation_required"
	EventLogout             = "logout"
	EventPasswordChange     = "password_change"
	EventMFAEnrollStarted   = "mfa_enrollment_started"
	EventMFAEnabled         = "mfa_enabled"
	EventMFADisabled        = "mfa_disabled"
	EventBackupCodesRenewed = "backup_codes_regenerated"
	EventBackupCodeUsed     = "backup_code_used"
	EventProfileUpdated     = "profile_updated"
	EventAdminCreated       = "admin_created"
	EventAdminBlocked       = "admin_blocked"
	EventAdminUnblocked     = "admin_unblocked"
	EventAdminDeleted       = "admin_deleted"
	EventAdminPasswordReset = "admin_password_reset"
	EventAdminMFAReset      = "admin_mfa_reset"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string // actor
	TargetID      string // subject of an administrative action
	Email         string // raw, masked on output
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes audit records through slog
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits one audit record. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.TargetID != "" {
		attrs = append(attrs, slog.String("target_id", event.TargetID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
