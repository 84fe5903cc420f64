package models

import (
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Abuse prevention errors
	ErrIPBlocked     = errors.New("too many failed attempts from this address")
	ErrAccountLocked = errors.New("account is temporarily locked")
	ErrMissingEmail  = errors.New("email is required")

	// Step-up verification errors. ErrOTPInvalid covers every verification
	// failure (wrong code, expired, consumed, nonexistent) so callers cannot
	// distinguish the cause.
	ErrOTPInvalid           = errors.New("verification code is invalid")
	ErrOTPDispatch          = errors.New("failed to deliver verification code")
	ErrOTPThrottled         = errors.New("too many verification codes requested")
	ErrTOTPNotEnrolled      = errors.New("authenticator app not enrolled")
	ErrChannelNotConfigured = errors.New("delivery channel is not configured")
)

// IPBlockedError carries the retry hint for a blocked address.
// errors.Is(err, ErrIPBlocked) matches it.
type IPBlockedError struct {
	RetryAfter time.Duration
}

func (e *IPBlockedError) Error() string { return ErrIPBlocked.Error() }
func (e *IPBlockedError) Unwrap() error { return ErrIPBlocked }

// AccountLockedError carries the remaining lock time for a locked account.
// errors.Is(err, ErrAccountLocked) matches it.
type AccountLockedError struct {
	MinutesRemaining int
}

func (e *AccountLockedError) Error() string { return ErrAccountLocked.Error() }
func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }
