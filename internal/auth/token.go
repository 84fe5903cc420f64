package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager handles JWT token generation and validation.
// Access tokens grant API access; otp_pending tokens only prove that the
// credential check passed and a step-up challenge is outstanding.
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	pendingTokenExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, pendingExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		pendingTokenExpiry: pendingExpiry,
	}
}

// GenerateAccessToken creates a short-lived access token with JTI
func (tm *TokenManager) GenerateAccessToken(accountID, email string) (string, error) {
	return tm.generate(models.TokenTypeAccess, accountID, email, "", tm.accessTokenExpiry)
}

// GeneratePendingToken creates a token representing the OTP_PENDING login
// state. Its lifetime bounds how long the subject has to complete step-up.
// The attempt type pins the verification step to the surface the login
// started on.
func (tm *TokenManager) GeneratePendingToken(accountID, email, attemptType string) (string, error) {
	return tm.generate(models.TokenTypeOTPPending, accountID, email, attemptType, tm.pendingTokenExpiry)
}

func (tm *TokenManager) generate(tokenType, accountID, email, attemptType string, expiry time.Duration) (string, error) {
	claims := &models.TokenClaims{
		Type:        tokenType,
		AccountID:   accountID,
		Email:       email,
		AttemptType: attemptType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" {
		return nil, fmt.Errorf("invalid token: missing type")
	}

	return claims, nil
}

// ValidatePendingToken verifies a token and requires the otp_pending type
func (tm *TokenManager) ValidatePendingToken(tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeOTPPending {
		return nil, models.ErrUnauthorized
	}
	return claims, nil
}
