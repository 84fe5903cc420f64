package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/repositories"
)

// securityEventRetentionDays bounds how long the audit trail is kept
const securityEventRetentionDays = 90

// CleanupManager periodically ages out expired ledger rows, stale OTP
// challenges and old security events. Nothing here affects correctness:
// lock expiry is lazy and OTP validity is wall-clock checked, so the sweeper
// only reclaims storage.
type CleanupManager struct {
	attemptRepo   *repositories.LoginAttemptRepository
	challengeRepo *repositories.OtpChallengeRepository
	eventRepo     *repositories.SecurityEventRepository
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	attemptRepo *repositories.LoginAttemptRepository,
	challengeRepo *repositories.OtpChallengeRepository,
	eventRepo *repositories.SecurityEventRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		attemptRepo:   attemptRepo,
		challengeRepo: challengeRepo,
		eventRepo:     eventRepo,
		logger:        logger,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps each table in turn
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	attempts, err := cm.attemptRepo.DeleteExpiredAttempts(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup login attempts", slog.Any("error", err))
	}

	challenges, err := cm.challengeRepo.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup otp challenges", slog.Any("error", err))
	}

	events, err := cm.eventRepo.Cleanup(cleanupCtx, securityEventRetentionDays)
	if err != nil {
		cm.logger.Error("failed to cleanup security events", slog.Any("error", err))
	}

	if attempts > 0 || challenges > 0 || events > 0 {
		cm.logger.Info("cleanup completed",
			slog.Int64("attempts_deleted", attempts),
			slog.Int64("challenges_deleted", challenges),
			slog.Int64("events_deleted", events))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
