package models

import (
	"time"
)

// Account is the credential-store record guarded by the engine. Lockout state
// is embedded directly on the account row and only ever changes through
// recorded attempts or an explicit success reset.
type Account struct {
	ID                    string
	Email                 string
	PasswordHash          string
	Role                  string // "customer", "admin"
	FailedAttemptCount    int
	LockedUntil           *time.Time
	LastFailedAt          *time.Time
	LastSuccessfulLoginAt *time.Time
	TOTPSecretEncrypted   []byte // nil until authenticator enrollment
	TOTPSecretNonce       []byte
	TOTPActivatedAt       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// LockStatus is the answer to "is this account locked right now".
// A nonexistent account reports the same shape as UNLOCKED(0).
type LockStatus struct {
	Locked           bool
	Attempts         int
	MinutesRemaining int
}
