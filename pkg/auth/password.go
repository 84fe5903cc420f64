package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 14 // OWASP 2026 recommendation - stronger than cost 12 (Feb 2026)
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

// dummyHash is a bcrypt hash of a random throwaway value. When a login names
// an account that does not exist, we still run one bcrypt comparison against
// this hash so the response time does not reveal whether the email is known.
const dummyHash = "$2a$14$N9qo8uLOickgx2ZMRZoMye1J8iZ5K0PDq6a0ZQ1hZvV7uXGh3qK2e"

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return "", fmt.Errorf("password length out of range")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// BurnComparison performs a bcrypt comparison that always fails, spending the
// same work as a real credential check. Called on the unknown-account path.
func BurnComparison(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}
