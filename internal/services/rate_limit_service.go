package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
)

// LoginAttemptRepository defines the interface for the attempt ledger
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailuresByIP(ctx context.Context, ipAddress, attemptType string, windowStart time.Time) (int, error)
}

// RateLimitService tracks abuse per source IP. Blocking is derived purely
// from ledger counts over a rolling window; there is no per-IP state row and
// nothing to expire.
type RateLimitService struct {
	ledger LoginAttemptRepository
	config config.GuardConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(ledger LoginAttemptRepository, cfg config.GuardConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		ledger: ledger,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test use only.
func (s *RateLimitService) WithClock(now func() time.Time) *RateLimitService {
	s.now = now
	return s
}

// CheckIPRateLimit reports whether the address has exceeded the failure
// threshold within the rolling window for the given attempt type. The two
// surfaces (admin, customer) are counted independently. The retry hint is the
// window length; the oldest counted failure ages out no later than that.
func (s *RateLimitService) CheckIPRateLimit(ctx context.Context, ipAddress, attemptType string) (bool, time.Duration, error) {
	windowStart := s.now().Add(-s.config.IPWindow)

	count, err := s.ledger.CountFailuresByIP(ctx, ipAddress, attemptType, windowStart)
	if err != nil {
		return false, 0, fmt.Errorf("failed to count failures by ip: %w", err)
	}

	if count >= s.config.IPFailureThreshold {
		s.logger.Warn("ip over failure threshold",
			slog.String("ip_address", ipAddress),
			slog.String("attempt_type", attemptType),
			slog.Int("failures", count))
		return true, s.config.IPWindow, nil
	}

	return false, 0, nil
}
