package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository handles account and lockout-state data access
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccountRow handles nullable fields and populates an Account model from a database row
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var lockedUntil, lastFailedAt, lastSuccess, totpActivatedAt *time.Time

	err := scanner.Scan(
		&account.ID, &account.Email, &account.PasswordHash, &account.Role,
		&account.FailedAttemptCount, &lockedUntil, &lastFailedAt, &lastSuccess,
		&account.TOTPSecretEncrypted, &account.TOTPSecretNonce, &totpActivatedAt,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	account.LockedUntil = lockedUntil
	account.LastFailedAt = lastFailedAt
	account.LastSuccessfulLoginAt = lastSuccess
	account.TOTPActivatedAt = totpActivatedAt

	return &account, nil
}

const accountColumns = `id, email, password_hash, role, failed_attempt_count, locked_until,
	last_failed_at, last_successful_login_at, totp_secret_encrypted, totp_secret_nonce,
	totp_activated_at, created_at, updated_at`

// GetByEmail retrieves an account by email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE email = $1`, accountColumns)
	return scanAccountRow(r.pool.QueryRow(ctx, query, email))
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := fmt.Sprintf(`
		INSERT INTO accounts (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING %s
	`, accountColumns)

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query, account.Email, account.PasswordHash, account.Role))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return created, nil
}

// RecordFailure increments the failure counter and, when the new count
// reaches the threshold, sets locked_until in the same statement, so two
// concurrent failures cannot both observe the pre-increment count and skip
// the lock. Returns the new count and the lock expiry, if any.
func (r *AccountRepository) RecordFailure(ctx context.Context, accountID string, threshold int, lockoutDuration time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE accounts
		SET failed_attempt_count = failed_attempt_count + 1,
		    last_failed_at = NOW(),
		    locked_until = CASE
		        WHEN failed_attempt_count + 1 >= $2 THEN NOW() + make_interval(secs => $3)
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_attempt_count, locked_until
	`

	var count int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, query, accountID, threshold, lockoutDuration.Seconds()).Scan(&count, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}

	return count, lockedUntil, nil
}

// ClearExpiredLock performs the lazy-expiry transition: if the lock has
// elapsed, clear it and zero the counter. The WHERE clause makes the check
// and the clear a single atomic step. Returns whether a transition happened.
func (r *AccountRepository) ClearExpiredLock(ctx context.Context, accountID string) (bool, error) {
	query := `
		UPDATE accounts
		SET failed_attempt_count = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_until IS NOT NULL AND locked_until <= NOW()
	`

	result, err := r.pool.Exec(ctx, query, accountID)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

// ResetLockState unconditionally returns the account to UNLOCKED(0) and
// records last-login metadata. Called on any successful authentication.
func (r *AccountRepository) ResetLockState(ctx context.Context, accountID string) error {
	query := `
		UPDATE accounts
		SET failed_attempt_count = 0,
		    locked_until = NULL,
		    last_successful_login_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SaveTOTPEnrollment stores an encrypted authenticator secret pending activation
func (r *AccountRepository) SaveTOTPEnrollment(ctx context.Context, accountID string, encrypted, nonce []byte) error {
	query := `
		UPDATE accounts
		SET totp_secret_encrypted = $2, totp_secret_nonce = $3, totp_activated_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, accountID, encrypted, nonce)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ActivateTOTP marks an enrolled authenticator as active
func (r *AccountRepository) ActivateTOTP(ctx context.Context, accountID string) error {
	query := `
		UPDATE accounts
		SET totp_activated_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND totp_secret_encrypted IS NOT NULL
	`

	result, err := r.pool.Exec(ctx, query, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
