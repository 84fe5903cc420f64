package models

import "time"

// OTP purposes
const (
	OTPPurposeLogin           = "login"
	OTPPurposePasswordReset   = "password_reset"
	OTPPurposeSensitiveAction = "sensitive_action"
)

// OtpChallenge is a single-use numeric code bound to a subject and purpose.
// It is created on issuance and mutated exactly once, when consumed.
type OtpChallenge struct {
	ID        string
	SubjectID string
	Code      string
	Purpose   string
	Channel   string
	ExpiresAt time.Time
	Consumed  bool
	CreatedAt time.Time
}

// IsExpired checks validity by wall clock only; no sweeper is involved.
func (c *OtpChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
