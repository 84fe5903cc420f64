package logger

import (
	"context"
	"log/slog"
	"time"
)

// FallbackEvent is a security event that could not be persisted. It is
// written to the structured log stream instead so the record is not lost.
type FallbackEvent struct {
	EventType   string
	Severity    string
	AccountID   string
	Email       string
	IPAddress   string
	Fingerprint string
	Reason      string
	Metadata    map[string]string
}

// AuditLogger mirrors security events into the application log. It is the
// sink of last resort when the database write fails; the primary trail
// lives in the security_events table.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogFallback records a security event that failed to persist
func (al *AuditLogger) LogFallback(event FallbackEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security_event_fallback"),
		slog.String("event_type", event.EventType),
		slog.String("severity", event.Severity),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Fingerprint != "" {
		attrs = append(attrs, slog.String("device_fingerprint", event.Fingerprint))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("persist_error", event.Reason))
	}

	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelError, "audit", attrs...)
}

// LogProtectionDegraded records that the guard proceeded without one of its
// protection layers after an infrastructure failure
func (al *AuditLogger) LogProtectionDegraded(layer, ipAddress string, err error) {
	attrs := []slog.Attr{
		slog.String("audit_type", "protection_degraded"),
		slog.String("layer", layer),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelError, "audit", attrs...)
}
