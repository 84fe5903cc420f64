package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event types emitted by the engine
const (
	EventAccountLocked       = "account_locked"
	EventIPBlocked           = "ip_blocked"
	EventLoginFailed         = "login_failed"
	EventLoginSucceeded      = "login_succeeded"
	EventPasswordVerified    = "password_verified"
	EventOTPIssued           = "otp_issued"
	EventOTPVerified         = "otp_verified"
	EventOTPRejected         = "otp_rejected"
	EventProtectionDegraded  = "protection_degraded"
	EventTOTPEnrolled        = "totp_enrolled"
)

// SecurityEvent is one row of the append-only audit trail.
type SecurityEvent struct {
	ID                string
	EventType         string
	Severity          string
	AccountID         *string
	Email             *string
	IPAddress         *string
	DeviceFingerprint *string
	Payload           EventPayload
	CreatedAt         time.Time
}

// EventPayload holds event-specific context, stored as JSONB.
type EventPayload map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (p *EventPayload) Scan(value interface{}) error {
	if value == nil {
		*p = make(EventPayload)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*p = EventPayload(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (p EventPayload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}
