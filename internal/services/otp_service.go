package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// OtpChallengeRepository defines the interface for OTP challenge persistence
type OtpChallengeRepository interface {
	Create(ctx context.Context, challenge *models.OtpChallenge) (*models.OtpChallenge, error)
	ConsumeMatching(ctx context.Context, subjectID, purpose, code string) (bool, error)
	CountIssuedSince(ctx context.Context, subjectID string, since time.Time) (int, error)
}

// EmailSender delivers OTP codes over email
type EmailSender interface {
	SendOTPEmail(ctx context.Context, toAddress, code string, ttl time.Duration) error
}

// ChatbotSender delivers OTP codes over the chat-bot channel
type ChatbotSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// maxCodesPerWindow caps issuance per subject inside one TTL window so the
// resend endpoint cannot be used to flood a victim's inbox.
const maxCodesPerWindow = 5

// OTPService issues and verifies single-use numeric codes
type OTPService struct {
	store   OtpChallengeRepository
	email   EmailSender
	chatbot ChatbotSender
	events  EventRecorder
	config  config.OTPConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewOTPService creates a new OTPService
func NewOTPService(store OtpChallengeRepository, email EmailSender, chatbot ChatbotSender, events EventRecorder, cfg config.OTPConfig, logger *slog.Logger) *OTPService {
	return &OTPService{
		store:   store,
		email:   email,
		chatbot: chatbot,
		events:  events,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Test use only.
func (s *OTPService) WithClock(now func() time.Time) *OTPService {
	s.now = now
	return s
}

// IssueRequest describes one OTP issuance
type IssueRequest struct {
	SubjectID     string
	Email         string
	Purpose       string
	Channel       string // "email", "chatbot" or "both"
	ChannelConfig models.ChannelConfig
	TTL           time.Duration // zero means the configured default
	IPAddress     string
}

// Issue generates a code, persists the challenge, then dispatches it. The
// persist happens first: a code the user received always has a stored
// counterpart, even if the process dies mid-dispatch. Issuing a new code does
// not invalidate earlier pending codes; each is consumable once until expiry.
func (s *OTPService) Issue(ctx context.Context, req IssueRequest) (*models.OtpChallenge, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	issued, err := s.store.CountIssuedSince(ctx, req.SubjectID, s.now().Add(-ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to count issued challenges: %w", err)
	}
	if issued >= maxCodesPerWindow {
		s.logger.Warn("otp issuance throttled",
			slog.String("email", pkglogger.SanitizedEmail(req.Email)),
			slog.Int("issued_in_window", issued))
		return nil, models.ErrOTPThrottled
	}

	code, err := generateNumericCode(s.config.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	challenge, err := s.store.Create(ctx, &models.OtpChallenge{
		SubjectID: req.SubjectID,
		Code:      code,
		Purpose:   req.Purpose,
		Channel:   req.Channel,
		ExpiresAt: s.now().Add(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist challenge: %w", err)
	}

	if err := s.dispatch(ctx, req, code, ttl); err != nil {
		s.logger.Error("otp dispatch failed",
			slog.String("channel", req.Channel),
			slog.Any("error", err))
		return nil, models.ErrOTPDispatch
	}

	s.events.Record(ctx, NewEvent(
		models.EventOTPIssued, models.SeverityLow,
		req.SubjectID, req.Email, req.IPAddress, "",
		models.EventPayload{
			"purpose": req.Purpose,
			"channel": req.Channel,
		},
	))

	return challenge, nil
}

// dispatch delivers the code over the requested channel. For "both", delivery
// succeeds as long as at least one channel accepted the message.
func (s *OTPService) dispatch(ctx context.Context, req IssueRequest, code string, ttl time.Duration) error {
	switch req.Channel {
	case models.ChannelEmail:
		return s.sendEmail(ctx, req, code, ttl)
	case models.ChannelChatbot:
		return s.sendChatbot(ctx, req, code, ttl)
	case models.ChannelBoth:
		emailErr := s.sendEmail(ctx, req, code, ttl)
		chatErr := s.sendChatbot(ctx, req, code, ttl)
		if emailErr != nil && chatErr != nil {
			return fmt.Errorf("all channels failed: email: %v, chatbot: %v", emailErr, chatErr)
		}
		if emailErr != nil {
			s.logger.Warn("email channel failed, chatbot delivered", slog.Any("error", emailErr))
		}
		if chatErr != nil {
			s.logger.Warn("chatbot channel failed, email delivered", slog.Any("error", chatErr))
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", models.ErrChannelNotConfigured, req.Channel)
	}
}

func (s *OTPService) sendEmail(ctx context.Context, req IssueRequest, code string, ttl time.Duration) error {
	if s.email == nil {
		return models.ErrChannelNotConfigured
	}
	return s.email.SendOTPEmail(ctx, req.Email, code, ttl)
}

func (s *OTPService) sendChatbot(ctx context.Context, req IssueRequest, code string, ttl time.Duration) error {
	if s.chatbot == nil {
		return models.ErrChannelNotConfigured
	}

	chatID := req.ChannelConfig["chat_id"]
	if chatID == "" {
		return fmt.Errorf("%w: no chat_id configured", models.ErrChannelNotConfigured)
	}

	text := fmt.Sprintf("Your verification code is %s. It expires in %d minutes. If you did not request this code, ignore this message.",
		code, int(ttl.Minutes()))
	return s.chatbot.SendMessage(ctx, chatID, text)
}

// Verify consumes a matching pending challenge. Consumption is a
// compare-and-set in the store: of two concurrent submissions of the same
// code, exactly one succeeds. Every failure mode returns the same
// models.ErrOTPInvalid so the caller learns nothing about why.
func (s *OTPService) Verify(ctx context.Context, subjectID, email, purpose, code, ipAddress string) error {
	if !isPlausibleCode(code, s.config.CodeLength) {
		s.recordRejection(ctx, subjectID, email, purpose, ipAddress)
		return models.ErrOTPInvalid
	}

	consumed, err := s.store.ConsumeMatching(ctx, subjectID, purpose, code)
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}

	if !consumed {
		s.recordRejection(ctx, subjectID, email, purpose, ipAddress)
		return models.ErrOTPInvalid
	}

	s.events.Record(ctx, NewEvent(
		models.EventOTPVerified, models.SeverityLow,
		subjectID, email, ipAddress, "",
		models.EventPayload{"purpose": purpose},
	))

	return nil
}

func (s *OTPService) recordRejection(ctx context.Context, subjectID, email, purpose, ipAddress string) {
	s.events.Record(ctx, NewEvent(
		models.EventOTPRejected, models.SeverityMedium,
		subjectID, email, ipAddress, "",
		models.EventPayload{"purpose": purpose},
	))
}

// isPlausibleCode screens out inputs that could never match before touching
// the store
func isPlausibleCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// generateNumericCode draws each digit independently from crypto/rand, so a
// six-digit code has the full 10^6 space including leading zeros
func generateNumericCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to read random digit: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
