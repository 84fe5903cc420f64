package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
)

// LoginAttemptRepository is the append-only attempt ledger. Rows are inserted
// once and never updated; retention is handled by the cleanup sweeper.
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt appends a login attempt to the ledger
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (email, ip_address, user_agent, device_fingerprint, attempt_type, success, failure_reason, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceFingerprint,
		attempt.AttemptType,
		attempt.Success,
		attempt.FailureReason,
		attempt.ExpiresAt,
	)

	return err
}

// CountFailuresByIP returns the number of failed attempts from an IP for a
// given attempt type since windowStart. Attempts the engine could not judge
// are excluded: an internal outage must never push an address over the
// blocking threshold.
func (r *LoginAttemptRepository) CountFailuresByIP(ctx context.Context, ipAddress, attemptType string, windowStart time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND attempt_type = $2 AND success = false AND attempt_time >= $3
		  AND failure_reason IS DISTINCT FROM $4
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, attemptType, windowStart, models.FailureReasonInfrastructureError).Scan(&count)
	return count, err
}

// DeleteExpiredAttempts removes attempts past their retention horizon
func (r *LoginAttemptRepository) DeleteExpiredAttempts(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`
	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
