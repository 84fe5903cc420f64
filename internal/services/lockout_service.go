package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// AccountRepository defines the interface for account and lockout-state access
type AccountRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	RecordFailure(ctx context.Context, accountID string, threshold int, lockoutDuration time.Duration) (int, *time.Time, error)
	ClearExpiredLock(ctx context.Context, accountID string) (bool, error)
	ResetLockState(ctx context.Context, accountID string) error
	SaveTOTPEnrollment(ctx context.Context, accountID string, encrypted, nonce []byte) error
	ActivateTOTP(ctx context.Context, accountID string) error
}

// LockoutService runs the per-account lockout state machine. The state itself
// lives on the account row; this service owns the transitions.
type LockoutService struct {
	repo   AccountRepository
	events EventRecorder
	config config.GuardConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(repo AccountRepository, events EventRecorder, cfg config.GuardConfig, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:   repo,
		events: events,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test use only.
func (s *LockoutService) WithClock(now func() time.Time) *LockoutService {
	s.now = now
	return s
}

// IsAccountLocked reports the current lock status for an email. Expired locks
// are cleared lazily here, on read. A nonexistent account reports the same
// unlocked zero-attempt status as a fresh one.
func (s *LockoutService) IsAccountLocked(ctx context.Context, email string) (*models.LockStatus, error) {
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.LockStatus{}, nil
		}
		return nil, fmt.Errorf("failed to load account lock state: %w", err)
	}

	if account.LockedUntil != nil {
		if account.LockedUntil.After(s.now()) {
			remaining := account.LockedUntil.Sub(s.now())
			return &models.LockStatus{
				Locked:           true,
				Attempts:         account.FailedAttemptCount,
				MinutesRemaining: int(math.Ceil(remaining.Minutes())),
			}, nil
		}

		// Lock has expired; transition back to UNLOCKED(0) now rather than
		// waiting for a sweeper.
		if _, err := s.repo.ClearExpiredLock(ctx, account.ID); err != nil {
			return nil, fmt.Errorf("failed to clear expired lock: %w", err)
		}
		return &models.LockStatus{}, nil
	}

	return &models.LockStatus{Attempts: account.FailedAttemptCount}, nil
}

// RegisterFailure counts one failed credential check against the account.
// The increment and the threshold comparison happen in a single statement in
// the repository, so concurrent failures cannot both slip under the limit.
func (s *LockoutService) RegisterFailure(ctx context.Context, accountID, email, ip, fingerprint string) error {
	count, lockedUntil, err := s.repo.RecordFailure(ctx, accountID, s.config.LockoutThreshold, s.config.LockoutDuration)
	if err != nil {
		return fmt.Errorf("failed to record account failure: %w", err)
	}

	if lockedUntil != nil && count >= s.config.LockoutThreshold {
		s.logger.Warn("account locked",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Int("failed_attempts", count))

		s.events.Record(ctx, NewEvent(
			models.EventAccountLocked, models.SeverityHigh,
			accountID, email, ip, fingerprint,
			models.EventPayload{
				"failed_attempts": count,
				"locked_until":    lockedUntil.UTC().Format(time.RFC3339),
			},
		))
	}

	return nil
}

// RegisterSuccess resets the account to UNLOCKED(0) after any successful
// authentication.
func (s *LockoutService) RegisterSuccess(ctx context.Context, accountID string) error {
	if err := s.repo.ResetLockState(ctx, accountID); err != nil {
		return fmt.Errorf("failed to reset lock state: %w", err)
	}
	return nil
}
