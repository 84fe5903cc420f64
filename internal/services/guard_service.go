package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// LockoutGuard is the lockout state machine as seen by the guard
type LockoutGuard interface {
	IsAccountLocked(ctx context.Context, email string) (*models.LockStatus, error)
	RegisterFailure(ctx context.Context, accountID, email, ip, fingerprint string) error
	RegisterSuccess(ctx context.Context, accountID string) error
}

// IPGuard is the per-address abuse tracker as seen by the guard
type IPGuard interface {
	CheckIPRateLimit(ctx context.Context, ipAddress, attemptType string) (bool, time.Duration, error)
}

// GuardService is the pre-credential gate for every authentication attempt.
// Check order is fixed: IP block, then account lock, then progressive delay.
// A request rejected here never reaches the credential check, so a blocked
// caller cannot confirm a password. Infrastructure failures inside a check
// disable that check for the request rather than the login itself; each such
// degradation is recorded as a critical event.
type GuardService struct {
	lockout   LockoutGuard
	rateLimit IPGuard
	ledger    LoginAttemptRepository
	events    EventRecorder
	delay     *auth.ProgressiveDelay
	config    config.GuardConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewGuardService creates a new GuardService
func NewGuardService(lockout LockoutGuard, rateLimit IPGuard, ledger LoginAttemptRepository, events EventRecorder, delay *auth.ProgressiveDelay, cfg config.GuardConfig, logger *slog.Logger) *GuardService {
	return &GuardService{
		lockout:   lockout,
		rateLimit: rateLimit,
		ledger:    ledger,
		events:    events,
		delay:     delay,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Test use only.
func (s *GuardService) WithClock(now func() time.Time) *GuardService {
	s.now = now
	return s
}

// GuardRequest describes one authentication attempt to be screened
type GuardRequest struct {
	Email          string
	IPAddress      string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	AttemptType    string // "admin" or "customer"
}

// Evaluate screens an attempt before any credential work. On rejection the
// returned error is models.ErrMissingEmail, a *models.IPBlockedError or a
// *models.AccountLockedError; every rejection has already been written to the
// ledger and the event trail. On success the returned SecurityContext must be
// closed out with RecordFailure or RecordSuccess.
func (s *GuardService) Evaluate(ctx context.Context, req GuardRequest) (*SecurityContext, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return nil, models.ErrMissingEmail
	}

	fingerprint := auth.ExtractFingerprint(auth.ClientHints{
		UserAgent:      req.UserAgent,
		AcceptLanguage: req.AcceptLanguage,
		AcceptEncoding: req.AcceptEncoding,
	})

	sc := &SecurityContext{guard: s, req: req, fingerprint: fingerprint}

	blocked, retryAfter, err := s.rateLimit.CheckIPRateLimit(ctx, req.IPAddress, req.AttemptType)
	if err != nil {
		s.degrade(ctx, "ip_rate_limit", req, fingerprint, err)
	} else if blocked {
		sc.appendAttempt(ctx, false, models.FailureReasonIPBlocked)
		s.events.Record(ctx, NewEvent(
			models.EventIPBlocked, models.SeverityCritical,
			"", req.Email, req.IPAddress, fingerprint.Hash,
			models.EventPayload{
				"attempt_type":        req.AttemptType,
				"retry_after_seconds": int(retryAfter.Seconds()),
			},
		))
		return nil, &models.IPBlockedError{RetryAfter: retryAfter}
	}

	priorFailures := 0
	status, err := s.lockout.IsAccountLocked(ctx, req.Email)
	if err != nil {
		s.degrade(ctx, "account_lockout", req, fingerprint, err)
	} else if status.Locked {
		sc.appendAttempt(ctx, false, models.FailureReasonAccountLocked)
		s.events.Record(ctx, NewEvent(
			models.EventLoginFailed, models.SeverityMedium,
			"", req.Email, req.IPAddress, fingerprint.Hash,
			models.EventPayload{
				"reason":            models.FailureReasonAccountLocked,
				"minutes_remaining": status.MinutesRemaining,
			},
		))
		return nil, &models.AccountLockedError{MinutesRemaining: status.MinutesRemaining}
	} else {
		priorFailures = status.Attempts
	}

	s.delay.Wait(ctx, priorFailures)

	return sc, nil
}

// degrade notes that a protection layer failed and the request proceeded
// without it
func (s *GuardService) degrade(ctx context.Context, layer string, req GuardRequest, fp auth.Fingerprint, err error) {
	s.logger.Error("protection layer failed, proceeding without it",
		slog.String("layer", layer),
		slog.String("ip_address", req.IPAddress),
		slog.Any("error", err))

	s.events.Record(ctx, NewEvent(
		models.EventProtectionDegraded, models.SeverityCritical,
		"", req.Email, req.IPAddress, fp.Hash,
		models.EventPayload{
			"layer": layer,
			"error": err.Error(),
		},
	))
}

// SecurityContext carries one screened attempt through the credential check.
// Exactly one of RecordFailure or RecordSuccess should be called.
type SecurityContext struct {
	guard       *GuardService
	req         GuardRequest
	fingerprint auth.Fingerprint
	accountID   string
}

// SetAccount binds the attempt to an account once the caller has resolved
// one. Attempts against unknown emails stay unbound.
func (sc *SecurityContext) SetAccount(accountID string) {
	sc.accountID = accountID
}

// Email returns the normalized email the attempt targets
func (sc *SecurityContext) Email() string {
	return sc.req.Email
}

// Fingerprint returns the device fingerprint extracted for this attempt
func (sc *SecurityContext) Fingerprint() auth.Fingerprint {
	return sc.fingerprint
}

// RecordFailure writes the failed attempt to the ledger and, for credential
// failures against a known account, advances the lockout counter. OTP
// rejections deliberately do not touch the account counter; they still count
// against the source address through the ledger.
func (sc *SecurityContext) RecordFailure(ctx context.Context, reason string) {
	sc.appendAttempt(ctx, false, reason)

	if reason == models.FailureReasonInvalidCredentials && sc.accountID != "" {
		detached := context.WithoutCancel(ctx)
		if err := sc.guard.lockout.RegisterFailure(detached, sc.accountID, sc.req.Email, sc.req.IPAddress, sc.fingerprint.Hash); err != nil {
			sc.guard.logger.Error("failed to advance lockout counter",
				slog.String("email", pkglogger.SanitizedEmail(sc.req.Email)),
				slog.Any("error", err))
		}
	}

	sc.guard.events.Record(ctx, NewEvent(
		models.EventLoginFailed, models.SeverityMedium,
		sc.accountID, sc.req.Email, sc.req.IPAddress, sc.fingerprint.Hash,
		models.EventPayload{
			"reason":       reason,
			"attempt_type": sc.req.AttemptType,
		},
	))
}

// RecordSuccess writes the successful attempt and resets the lockout state
func (sc *SecurityContext) RecordSuccess(ctx context.Context) {
	sc.appendAttempt(ctx, true, "")

	if sc.accountID != "" {
		detached := context.WithoutCancel(ctx)
		if err := sc.guard.lockout.RegisterSuccess(detached, sc.accountID); err != nil {
			sc.guard.logger.Error("failed to reset lockout state",
				slog.String("email", pkglogger.SanitizedEmail(sc.req.Email)),
				slog.Any("error", err))
		}
	}

	sc.guard.events.Record(ctx, NewEvent(
		models.EventLoginSucceeded, models.SeverityLow,
		sc.accountID, sc.req.Email, sc.req.IPAddress, sc.fingerprint.Hash,
		models.EventPayload{"attempt_type": sc.req.AttemptType},
	))
}

// appendAttempt writes one ledger row. The write uses a detached context so
// a caller that hangs up mid-request still leaves an audit trail, and a
// ledger outage never turns into a login outage.
func (sc *SecurityContext) appendAttempt(ctx context.Context, success bool, reason string) {
	attempt := &models.LoginAttempt{
		Email:             sc.req.Email,
		IPAddress:         sc.req.IPAddress,
		UserAgent:         sc.req.UserAgent,
		DeviceFingerprint: sc.fingerprint.Hash,
		AttemptType:       sc.req.AttemptType,
		Success:           success,
		ExpiresAt:         sc.guard.now().Add(sc.guard.config.AttemptRetention),
	}
	if reason != "" {
		attempt.FailureReason = &reason
	}

	detached := context.WithoutCancel(ctx)
	if err := sc.guard.ledger.RecordAttempt(detached, attempt); err != nil {
		sc.guard.logger.Error("failed to append login attempt",
			slog.String("ip_address", sc.req.IPAddress),
			slog.Any("error", err))
	}
}
