package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckIPRateLimit_UnderThreshold(t *testing.T) {
	ledger := &services.MockLoginAttemptRepository{
		CountFailuresByIPFunc: func(ctx context.Context, ip, attemptType string, windowStart time.Time) (int, error) {
			return 19, nil
		},
	}
	svc := services.NewRateLimitService(ledger, testGuardConfig(), testLogger())

	blocked, _, err := svc.CheckIPRateLimit(context.Background(), "10.0.0.1", models.AttemptTypeCustomer)

	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestCheckIPRateLimit_AtThreshold(t *testing.T) {
	ledger := &services.MockLoginAttemptRepository{
		CountFailuresByIPFunc: func(ctx context.Context, ip, attemptType string, windowStart time.Time) (int, error) {
			return 20, nil
		},
	}
	svc := services.NewRateLimitService(ledger, testGuardConfig(), testLogger())

	blocked, retryAfter, err := svc.CheckIPRateLimit(context.Background(), "10.0.0.1", models.AttemptTypeCustomer)

	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, 15*time.Minute, retryAfter)
}

func TestCheckIPRateLimit_WindowStart(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var gotWindowStart time.Time
	ledger := &services.MockLoginAttemptRepository{
		CountFailuresByIPFunc: func(ctx context.Context, ip, attemptType string, windowStart time.Time) (int, error) {
			gotWindowStart = windowStart
			return 0, nil
		},
	}
	svc := services.NewRateLimitService(ledger, testGuardConfig(), testLogger()).
		WithClock(func() time.Time { return now })

	_, _, err := svc.CheckIPRateLimit(context.Background(), "10.0.0.1", models.AttemptTypeAdmin)

	require.NoError(t, err)
	assert.Equal(t, now.Add(-15*time.Minute), gotWindowStart)
}

func TestCheckIPRateLimit_SurfacesAreIndependent(t *testing.T) {
	// Counting is keyed by attempt type, so admin failures never block the
	// customer surface for the same address.
	counts := map[string]int{
		models.AttemptTypeAdmin:    25,
		models.AttemptTypeCustomer: 0,
	}
	ledger := &services.MockLoginAttemptRepository{
		CountFailuresByIPFunc: func(ctx context.Context, ip, attemptType string, windowStart time.Time) (int, error) {
			return counts[attemptType], nil
		},
	}
	svc := services.NewRateLimitService(ledger, testGuardConfig(), testLogger())

	adminBlocked, _, err := svc.CheckIPRateLimit(context.Background(), "10.0.0.1", models.AttemptTypeAdmin)
	require.NoError(t, err)
	customerBlocked, _, err := svc.CheckIPRateLimit(context.Background(), "10.0.0.1", models.AttemptTypeCustomer)
	require.NoError(t, err)

	assert.True(t, adminBlocked)
	assert.False(t, customerBlocked)
}

func TestCheckIPRateLimit_LedgerError(t *testing.T) {
	ledger := &services.MockLoginAttemptRepository{
		CountFailuresByIPFunc: func(ctx context.Context, ip, attemptType string, windowStart time.Time) (int, error) {
			return 0, errors.New("connection refused")
		},
	}
	svc := services.NewRateLimitService(ledger, testGuardConfig(), testLogger())

	_, _, err := svc.CheckIPRateLimit(context.Background(), "10.0.0.1", models.AttemptTypeCustomer)

	assert.Error(t, err)
}
