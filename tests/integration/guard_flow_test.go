package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
)

func newLockoutService(db *TestDB) *services.LockoutService {
	accountRepo, _, _, _, _ := InitializeRepositories(db.DB)
	return services.NewLockoutService(accountRepo, newEventService(db), integrationGuardConfig(), integrationLogger())
}

func newGuardService(db *TestDB) *services.GuardService {
	_, attemptRepo, _, _, _ := InitializeRepositories(db.DB)
	cfg := integrationGuardConfig()
	delay := auth.NewProgressiveDelay(auth.DelayConfig{Base: cfg.DelayBase, Max: cfg.DelayMax})
	rateLimit := services.NewRateLimitService(attemptRepo, cfg, integrationLogger())
	return services.NewGuardService(newLockoutService(db), rateLimit, attemptRepo, newEventService(db), delay, cfg, integrationLogger())
}

func customerGuardRequest(email, ip string) services.GuardRequest {
	return services.GuardRequest{
		Email:       email,
		IPAddress:   ip,
		UserAgent:   "integration-test",
		AttemptType: models.AttemptTypeCustomer,
	}
}

func TestLockout_FifthFailureLocksAccount(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	lockout := newLockoutService(db)

	for i := 0; i < 4; i++ {
		require.NoError(t, lockout.RegisterFailure(ctx, account.ID, account.Email, "203.0.113.10", "fp"))
	}

	status, err := lockout.IsAccountLocked(ctx, account.Email)
	require.NoError(t, err)
	assert.False(t, status.Locked, "four failures must not lock")
	assert.Equal(t, 4, status.Attempts)

	require.NoError(t, lockout.RegisterFailure(ctx, account.ID, account.Email, "203.0.113.10", "fp"))

	status, err = lockout.IsAccountLocked(ctx, account.Email)
	require.NoError(t, err)
	assert.True(t, status.Locked, "fifth failure must lock")
	assert.InDelta(t, 30, status.MinutesRemaining, 1)
}

func TestLockout_ConcurrentFailuresLockExactlyOnce(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	accountRepo, _, _, _, _ := InitializeRepositories(db.DB)

	// Concurrent failures must never both observe the pre-increment count
	// and skip the lock.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := accountRepo.RecordFailure(ctx, account.ID, 5, 30*time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int
	var lockedUntil *time.Time
	err = db.Pool.QueryRow(ctx, "SELECT failed_attempt_count, locked_until FROM accounts WHERE id = $1", account.ID).
		Scan(&count, &lockedUntil)
	require.NoError(t, err)

	assert.Equal(t, 10, count, "every failure must be counted")
	require.NotNil(t, lockedUntil, "lock must be set once the threshold is crossed")
	assert.True(t, lockedUntil.After(time.Now().Add(29*time.Minute)))
}

func TestLockout_ExpiredLockClearsLazily(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)
	require.NoError(t, SeedExpiredLock(ctx, db.Pool, account.ID, 5))

	lockout := newLockoutService(db)

	status, err := lockout.IsAccountLocked(ctx, account.Email)
	require.NoError(t, err)
	assert.False(t, status.Locked, "expired lock must read as unlocked")
	assert.Zero(t, status.Attempts)

	// The read must have transitioned the stored state, not just reported it
	var count int
	var lockedUntil *time.Time
	err = db.Pool.QueryRow(ctx, "SELECT failed_attempt_count, locked_until FROM accounts WHERE id = $1", account.ID).
		Scan(&count, &lockedUntil)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Nil(t, lockedUntil)
}

func TestLockout_SuccessResetsCounter(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	lockout := newLockoutService(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, lockout.RegisterFailure(ctx, account.ID, account.Email, "203.0.113.10", "fp"))
	}
	require.NoError(t, lockout.RegisterSuccess(ctx, account.ID))

	status, err := lockout.IsAccountLocked(ctx, account.Email)
	require.NoError(t, err)
	assert.False(t, status.Locked)
	assert.Zero(t, status.Attempts, "success must clear accumulated failures")
}

func TestGuard_IPThresholdBlocksTwentyFirstAttempt(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	guard := newGuardService(db)
	attackerIP := "198.51.100.7"

	// Credential-stuffing pattern: many emails, one address
	for i := 0; i < 20; i++ {
		sc, err := guard.Evaluate(ctx, customerGuardRequest(fmt.Sprintf("target%d@example.com", i), attackerIP))
		require.NoError(t, err)
		sc.RecordFailure(ctx, models.FailureReasonInvalidCredentials)
	}

	_, err := guard.Evaluate(ctx, customerGuardRequest("target99@example.com", attackerIP))

	var blocked *models.IPBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.ErrorIs(t, err, models.ErrIPBlocked)
	assert.Equal(t, 15*time.Minute, blocked.RetryAfter)

	// The rejection itself must land in the ledger
	var rejections int
	err = db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM login_attempts WHERE ip_address = $1 AND failure_reason = $2",
		attackerIP, models.FailureReasonIPBlocked).Scan(&rejections)
	require.NoError(t, err)
	assert.Equal(t, 1, rejections)
}

func TestGuard_OtherAddressUnaffectedByBlockedIP(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	guard := newGuardService(db)

	for i := 0; i < 20; i++ {
		sc, err := guard.Evaluate(ctx, customerGuardRequest(fmt.Sprintf("target%d@example.com", i), "198.51.100.7"))
		require.NoError(t, err)
		sc.RecordFailure(ctx, models.FailureReasonInvalidCredentials)
	}

	_, err := guard.Evaluate(ctx, customerGuardRequest("target0@example.com", "203.0.113.99"))
	assert.NoError(t, err, "IP blocks must not leak to other addresses")
}

func TestGuard_LockedAccountRejectedBeforeCredentials(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	lockout := newLockoutService(db)
	for i := 0; i < 5; i++ {
		require.NoError(t, lockout.RegisterFailure(ctx, account.ID, account.Email, "203.0.113.10", "fp"))
	}

	guard := newGuardService(db)
	_, err = guard.Evaluate(ctx, customerGuardRequest(account.Email, "203.0.113.10"))

	var locked *models.AccountLockedError
	require.ErrorAs(t, err, &locked)
	assert.True(t, errors.Is(err, models.ErrAccountLocked))
	assert.Greater(t, locked.MinutesRemaining, 0)
}

func TestGuard_LockEventRecorded(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	lockout := newLockoutService(db)
	for i := 0; i < 5; i++ {
		require.NoError(t, lockout.RegisterFailure(ctx, account.ID, account.Email, "203.0.113.10", "fp"))
	}

	var eventCount int
	err = db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM security_events WHERE event_type = $1 AND account_id = $2",
		models.EventAccountLocked, account.ID).Scan(&eventCount)
	require.NoError(t, err)
	assert.Equal(t, 1, eventCount, "crossing the threshold must emit exactly one lock event")
}
