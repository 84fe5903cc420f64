package services

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByEmailFunc         func(ctx context.Context, email string) (*models.Account, error)
	GetByIDFunc            func(ctx context.Context, id string) (*models.Account, error)
	RecordFailureFunc      func(ctx context.Context, accountID string, threshold int, lockoutDuration time.Duration) (int, *time.Time, error)
	ClearExpiredLockFunc   func(ctx context.Context, accountID string) (bool, error)
	ResetLockStateFunc     func(ctx context.Context, accountID string) error
	SaveTOTPEnrollmentFunc func(ctx context.Context, accountID string, encrypted, nonce []byte) error
	ActivateTOTPFunc       func(ctx context.Context, accountID string) error
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) RecordFailure(ctx context.Context, accountID string, threshold int, lockoutDuration time.Duration) (int, *time.Time, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, accountID, threshold, lockoutDuration)
	}
	return 1, nil, nil
}

func (m *MockAccountRepository) ClearExpiredLock(ctx context.Context, accountID string) (bool, error) {
	if m.ClearExpiredLockFunc != nil {
		return m.ClearExpiredLockFunc(ctx, accountID)
	}
	return false, nil
}

func (m *MockAccountRepository) ResetLockState(ctx context.Context, accountID string) error {
	if m.ResetLockStateFunc != nil {
		return m.ResetLockStateFunc(ctx, accountID)
	}
	return nil
}

func (m *MockAccountRepository) SaveTOTPEnrollment(ctx context.Context, accountID string, encrypted, nonce []byte) error {
	if m.SaveTOTPEnrollmentFunc != nil {
		return m.SaveTOTPEnrollmentFunc(ctx, accountID, encrypted, nonce)
	}
	return nil
}

func (m *MockAccountRepository) ActivateTOTP(ctx context.Context, accountID string) error {
	if m.ActivateTOTPFunc != nil {
		return m.ActivateTOTPFunc(ctx, accountID)
	}
	return nil
}

// MockLoginAttemptRepository implements LoginAttemptRepository for testing
// and remembers every appended attempt
type MockLoginAttemptRepository struct {
	RecordAttemptFunc     func(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailuresByIPFunc func(ctx context.Context, ipAddress, attemptType string, windowStart time.Time) (int, error)
	Recorded              []*models.LoginAttempt
}

func (m *MockLoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	m.Recorded = append(m.Recorded, attempt)
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *MockLoginAttemptRepository) CountFailuresByIP(ctx context.Context, ipAddress, attemptType string, windowStart time.Time) (int, error) {
	if m.CountFailuresByIPFunc != nil {
		return m.CountFailuresByIPFunc(ctx, ipAddress, attemptType, windowStart)
	}
	return 0, nil
}

// MockSecurityEventRepository implements SecurityEventRepository for testing
type MockSecurityEventRepository struct {
	CreateFunc func(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	return event, nil
}

// MockEventRecorder implements EventRecorder for testing and remembers every
// recorded event
type MockEventRecorder struct {
	Events []*models.SecurityEvent
}

func (m *MockEventRecorder) Record(ctx context.Context, event *models.SecurityEvent) {
	m.Events = append(m.Events, event)
}

// HasEvent reports whether an event of the given type was recorded
func (m *MockEventRecorder) HasEvent(eventType string) bool {
	for _, event := range m.Events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

// MockOtpChallengeRepository implements OtpChallengeRepository for testing
type MockOtpChallengeRepository struct {
	CreateFunc           func(ctx context.Context, challenge *models.OtpChallenge) (*models.OtpChallenge, error)
	ConsumeMatchingFunc  func(ctx context.Context, subjectID, purpose, code string) (bool, error)
	CountIssuedSinceFunc func(ctx context.Context, subjectID string, since time.Time) (int, error)
}

func (m *MockOtpChallengeRepository) Create(ctx context.Context, challenge *models.OtpChallenge) (*models.OtpChallenge, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, challenge)
	}
	return challenge, nil
}

func (m *MockOtpChallengeRepository) ConsumeMatching(ctx context.Context, subjectID, purpose, code string) (bool, error) {
	if m.ConsumeMatchingFunc != nil {
		return m.ConsumeMatchingFunc(ctx, subjectID, purpose, code)
	}
	return false, nil
}

func (m *MockOtpChallengeRepository) CountIssuedSince(ctx context.Context, subjectID string, since time.Time) (int, error) {
	if m.CountIssuedSinceFunc != nil {
		return m.CountIssuedSinceFunc(ctx, subjectID, since)
	}
	return 0, nil
}

// MockTwoFactorPolicyRepository implements TwoFactorPolicyRepository for testing
type MockTwoFactorPolicyRepository struct {
	GetByUserIDFunc func(ctx context.Context, userID string) (*models.TwoFactorPolicy, error)
}

func (m *MockTwoFactorPolicyRepository) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorPolicy, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

// MockEmailSender implements EmailSender for testing
type MockEmailSender struct {
	SendOTPEmailFunc func(ctx context.Context, toAddress, code string, ttl time.Duration) error
	Sent             []string
}

func (m *MockEmailSender) SendOTPEmail(ctx context.Context, toAddress, code string, ttl time.Duration) error {
	m.Sent = append(m.Sent, code)
	if m.SendOTPEmailFunc != nil {
		return m.SendOTPEmailFunc(ctx, toAddress, code, ttl)
	}
	return nil
}

// MockChatbotSender implements ChatbotSender for testing
type MockChatbotSender struct {
	SendMessageFunc func(ctx context.Context, chatID, text string) error
	Sent            []string
}

func (m *MockChatbotSender) SendMessage(ctx context.Context, chatID, text string) error {
	m.Sent = append(m.Sent, text)
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, chatID, text)
	}
	return nil
}

// MockLockoutGuard implements LockoutGuard for testing
type MockLockoutGuard struct {
	IsAccountLockedFunc func(ctx context.Context, email string) (*models.LockStatus, error)
	RegisterFailureFunc func(ctx context.Context, accountID, email, ip, fingerprint string) error
	RegisterSuccessFunc func(ctx context.Context, accountID string) error
	Failures            int
	Successes           int
}

func (m *MockLockoutGuard) IsAccountLocked(ctx context.Context, email string) (*models.LockStatus, error) {
	if m.IsAccountLockedFunc != nil {
		return m.IsAccountLockedFunc(ctx, email)
	}
	return &models.LockStatus{}, nil
}

func (m *MockLockoutGuard) RegisterFailure(ctx context.Context, accountID, email, ip, fingerprint string) error {
	m.Failures++
	if m.RegisterFailureFunc != nil {
		return m.RegisterFailureFunc(ctx, accountID, email, ip, fingerprint)
	}
	return nil
}

func (m *MockLockoutGuard) RegisterSuccess(ctx context.Context, accountID string) error {
	m.Successes++
	if m.RegisterSuccessFunc != nil {
		return m.RegisterSuccessFunc(ctx, accountID)
	}
	return nil
}

// MockIPGuard implements IPGuard for testing
type MockIPGuard struct {
	CheckIPRateLimitFunc func(ctx context.Context, ipAddress, attemptType string) (bool, time.Duration, error)
}

func (m *MockIPGuard) CheckIPRateLimit(ctx context.Context, ipAddress, attemptType string) (bool, time.Duration, error) {
	if m.CheckIPRateLimitFunc != nil {
		return m.CheckIPRateLimitFunc(ctx, ipAddress, attemptType)
	}
	return false, 0, nil
}

// MockOTPProvider implements OTPProvider for testing
type MockOTPProvider struct {
	IssueFunc  func(ctx context.Context, req IssueRequest) (*models.OtpChallenge, error)
	VerifyFunc func(ctx context.Context, subjectID, email, purpose, code, ipAddress string) error
	Issued     []IssueRequest
}

func (m *MockOTPProvider) Issue(ctx context.Context, req IssueRequest) (*models.OtpChallenge, error) {
	m.Issued = append(m.Issued, req)
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, req)
	}
	return &models.OtpChallenge{SubjectID: req.SubjectID, Purpose: req.Purpose, Channel: req.Channel}, nil
}

func (m *MockOTPProvider) Verify(ctx context.Context, subjectID, email, purpose, code, ipAddress string) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, subjectID, email, purpose, code, ipAddress)
	}
	return models.ErrOTPInvalid
}

// MockStepUpResolver implements StepUpResolver for testing
type MockStepUpResolver struct {
	ResolveFunc func(ctx context.Context, userID, actionType string) *StepUpDecision
}

func (m *MockStepUpResolver) Resolve(ctx context.Context, userID, actionType string) *StepUpDecision {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, userID, actionType)
	}
	return &StepUpDecision{}
}
