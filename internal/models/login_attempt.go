package models

import "time"

// Attempt types distinguish the two authentication surfaces.
const (
	AttemptTypeAdmin    = "admin"
	AttemptTypeCustomer = "customer"
)

// Well-known failure reasons recorded on the attempt ledger. An
// infrastructure_error row records an attempt the engine could not finish
// judging; it never counts toward abuse thresholds.
const (
	FailureReasonInvalidCredentials  = "invalid_credentials"
	FailureReasonAccountLocked       = "account_locked"
	FailureReasonIPBlocked           = "ip_blocked"
	FailureReasonInvalidOTP          = "invalid_otp"
	FailureReasonOTPThrottled        = "otp_throttled"
	FailureReasonInfrastructureError = "infrastructure_error"
)

// LoginAttempt is one row of the append-only attempt ledger. Rows are
// permanent audit facts: never mutated, only aged out by the sweeper.
type LoginAttempt struct {
	ID                string
	Email             string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	AttemptType       string // "admin" or "customer"
	Success           bool
	FailureReason     *string
	AttemptTime       time.Time
	ExpiresAt         time.Time // retention horizon, not validity
}
