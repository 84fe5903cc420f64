package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BradenHooton/bastion/internal/models"
)

// TwoFactorPolicyRepository defines the interface for reading step-up policies
type TwoFactorPolicyRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.TwoFactorPolicy, error)
}

// StepUpDecision is the policy resolver's answer for one user and action
type StepUpDecision struct {
	Required      bool
	Channel       string
	ChannelConfig models.ChannelConfig
}

// TwoFactorService resolves whether an action needs step-up verification.
// Policy reads fail open: if the store is unreachable, login proceeds without
// step-up rather than locking every user out, and a critical event records
// the degradation.
type TwoFactorService struct {
	repo   TwoFactorPolicyRepository
	events EventRecorder
	logger *slog.Logger
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(repo TwoFactorPolicyRepository, events EventRecorder, logger *slog.Logger) *TwoFactorService {
	return &TwoFactorService{
		repo:   repo,
		events: events,
		logger: logger,
	}
}

// Resolve returns the step-up decision for a user and action type. No policy
// row means step-up is not enabled for the user.
func (s *TwoFactorService) Resolve(ctx context.Context, userID, actionType string) *StepUpDecision {
	policy, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &StepUpDecision{}
		}

		s.logger.Error("failed to read step-up policy, proceeding without step-up",
			slog.String("user_id", userID),
			slog.Any("error", err))
		s.events.Record(ctx, NewEvent(
			models.EventProtectionDegraded, models.SeverityCritical,
			userID, "", "", "",
			models.EventPayload{
				"layer": "two_factor_policy",
				"error": err.Error(),
			},
		))
		return &StepUpDecision{}
	}

	if !policy.Requires(actionType) {
		return &StepUpDecision{}
	}

	return &StepUpDecision{
		Required:      true,
		Channel:       policy.Channel,
		ChannelConfig: policy.ChannelConfig,
	}
}
