package models

import "github.com/golang-jwt/jwt/v5"

// Token types issued by the engine. An "otp_pending" token proves the
// credential check passed but a step-up challenge is still outstanding; it
// grants no API access.
const (
	TokenTypeAccess     = "access"
	TokenTypeOTPPending = "otp_pending"
)

// TokenClaims are the JWT claims carried by engine-issued tokens. An
// otp_pending token also names the surface ("admin" or "customer") the login
// started on, so the verification step ledgers against the same surface.
type TokenClaims struct {
	Type        string `json:"type"`
	AccountID   string `json:"account_id"`
	Email       string `json:"email"`
	AttemptType string `json:"attempt_type,omitempty"`
	jwt.RegisteredClaims
}
