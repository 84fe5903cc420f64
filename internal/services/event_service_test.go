package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Persists(t *testing.T) {
	var stored *models.SecurityEvent
	repo := &services.MockSecurityEventRepository{
		CreateFunc: func(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
			stored = event
			return event, nil
		},
	}
	svc := services.NewEventService(repo, testLogger(), pkglogger.NewAuditLogger(testLogger()))

	svc.Record(context.Background(), services.NewEvent(
		models.EventAccountLocked, models.SeverityHigh,
		"acc-1", "user@example.com", "10.0.0.1", "fp",
		models.EventPayload{"failed_attempts": 5},
	))

	require.NotNil(t, stored)
	assert.Equal(t, models.EventAccountLocked, stored.EventType)
	assert.Equal(t, models.SeverityHigh, stored.Severity)
	require.NotNil(t, stored.Email)
	assert.Equal(t, "user@example.com", *stored.Email)
}

func TestRecord_PersistFailureIsSwallowed(t *testing.T) {
	repo := &services.MockSecurityEventRepository{
		CreateFunc: func(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := services.NewEventService(repo, testLogger(), pkglogger.NewAuditLogger(testLogger()))

	// Must not panic or propagate
	svc.Record(context.Background(), services.NewEvent(
		models.EventLoginFailed, models.SeverityMedium,
		"", "user@example.com", "10.0.0.1", "",
		nil,
	))
}

func TestRecord_SurvivesCancelledContext(t *testing.T) {
	var ctxErr error
	repo := &services.MockSecurityEventRepository{
		CreateFunc: func(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
			ctxErr = ctx.Err()
			return event, nil
		},
	}
	svc := services.NewEventService(repo, testLogger(), pkglogger.NewAuditLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Record(ctx, services.NewEvent(models.EventLoginSucceeded, models.SeverityLow, "acc-1", "", "", "", nil))

	assert.NoError(t, ctxErr)
}

func TestNewEvent_EmptyFieldsBecomeNil(t *testing.T) {
	event := services.NewEvent(models.EventLoginFailed, models.SeverityMedium, "", "", "", "", nil)

	assert.Nil(t, event.AccountID)
	assert.Nil(t, event.Email)
	assert.Nil(t, event.IPAddress)
	assert.Nil(t, event.DeviceFingerprint)
}
