package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// SecurityEventRepository defines the interface for security event persistence
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
}

// EventRecorder is the interface other services use to emit security events.
// Recording never fails: a persistence error is absorbed here so it cannot
// mask the outcome of the operation being recorded.
type EventRecorder interface {
	Record(ctx context.Context, event *models.SecurityEvent)
}

// EventService appends to the security event trail
type EventService struct {
	repo        SecurityEventRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewEventService creates a new EventService
func NewEventService(repo SecurityEventRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *EventService {
	return &EventService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Record persists a security event. The write uses a detached context so an
// abandoned request cannot cancel it mid-flight. On failure the event is
// mirrored into the structured log stream and the error is swallowed.
func (s *EventService) Record(ctx context.Context, event *models.SecurityEvent) {
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}

	detached := context.WithoutCancel(ctx)
	if _, err := s.repo.Create(detached, event); err != nil {
		s.logger.Error("failed to persist security event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))

		fallback := pkglogger.FallbackEvent{
			EventType: event.EventType,
			Severity:  event.Severity,
			Reason:    err.Error(),
		}
		if event.AccountID != nil {
			fallback.AccountID = *event.AccountID
		}
		if event.Email != nil {
			fallback.Email = *event.Email
		}
		if event.IPAddress != nil {
			fallback.IPAddress = *event.IPAddress
		}
		if event.DeviceFingerprint != nil {
			fallback.Fingerprint = *event.DeviceFingerprint
		}
		s.auditLogger.LogFallback(fallback)
	}
}

// NewEvent builds a SecurityEvent with optional subject fields. Empty strings
// become NULL columns.
func NewEvent(eventType, severity string, accountID, email, ip, fingerprint string, payload models.EventPayload) *models.SecurityEvent {
	event := &models.SecurityEvent{
		EventType: eventType,
		Severity:  severity,
		Payload:   payload,
	}
	if accountID != "" {
		event.AccountID = &accountID
	}
	if email != "" {
		event.Email = &email
	}
	if ip != "" {
		event.IPAddress = &ip
	}
	if fingerprint != "" {
		event.DeviceFingerprint = &fingerprint
	}
	return event
}
