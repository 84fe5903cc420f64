package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OtpChallengeRepository handles OTP challenge persistence
type OtpChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewOtpChallengeRepository creates a new OtpChallengeRepository
func NewOtpChallengeRepository(db *database.DB) *OtpChallengeRepository {
	return &OtpChallengeRepository{pool: db.Pool}
}

func scanChallengeRow(row rowScanner) (*models.OtpChallenge, error) {
	var challenge models.OtpChallenge

	err := row.Scan(
		&challenge.ID, &challenge.SubjectID, &challenge.Code, &challenge.Purpose,
		&challenge.Channel, &challenge.ExpiresAt, &challenge.Consumed, &challenge.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &challenge, nil
}

// Create persists a new challenge. Called before dispatch so a delivered
// code always has a stored counterpart.
func (r *OtpChallengeRepository) Create(ctx context.Context, challenge *models.OtpChallenge) (*models.OtpChallenge, error) {
	query := `
		INSERT INTO otp_challenges (subject_id, code, purpose, channel, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, subject_id, code, purpose, channel, expires_at, consumed, created_at
	`

	created, err := scanChallengeRow(r.pool.QueryRow(
		ctx, query,
		challenge.SubjectID, challenge.Code, challenge.Purpose, challenge.Channel, challenge.ExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create otp challenge: %w", err)
	}

	return created, nil
}

// ConsumeMatching finds the most recent unconsumed, unexpired challenge for
// subject+purpose+code and marks it consumed. The outer `consumed = false`
// predicate is the compare-and-set: of two concurrent calls, exactly one
// updates a row. Returns whether this call won.
func (r *OtpChallengeRepository) ConsumeMatching(ctx context.Context, subjectID, purpose, code string) (bool, error) {
	query := `
		UPDATE otp_challenges
		SET consumed = true
		WHERE id = (
			SELECT id FROM otp_challenges
			WHERE subject_id = $1 AND purpose = $2 AND code = $3
			  AND consumed = false AND expires_at > NOW()
			ORDER BY created_at DESC
			LIMIT 1
		)
		AND consumed = false
	`

	result, err := r.pool.Exec(ctx, query, subjectID, purpose, code)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

// CountIssuedSince returns how many challenges were issued for a subject
// since the given time, consumed or not. Used to cap re-issuance.
func (r *OtpChallengeRepository) CountIssuedSince(ctx context.Context, subjectID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM otp_challenges
		WHERE subject_id = $1 AND created_at >= $2
	`

	var count int
	err := r.pool.QueryRow(ctx, query, subjectID, since).Scan(&count)
	return count, err
}

// CleanupExpired removes consumed challenges and challenges past expiry.
// Storage hygiene only: verification never depends on this running.
func (r *OtpChallengeRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM otp_challenges
		WHERE consumed = true OR expires_at < NOW() - INTERVAL '1 day'
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup otp challenges: %w", err)
	}

	return result.RowsAffected(), nil
}
