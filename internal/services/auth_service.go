package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// OTPProvider defines the step-up challenge operations used during login
type OTPProvider interface {
	Issue(ctx context.Context, req IssueRequest) (*models.OtpChallenge, error)
	Verify(ctx context.Context, subjectID, email, purpose, code, ipAddress string) error
}

// StepUpResolver decides whether an action needs step-up verification
type StepUpResolver interface {
	Resolve(ctx context.Context, userID, actionType string) *StepUpDecision
}

// Login states
const (
	LoginStateAuthenticated = "authenticated"
	LoginStateOTPPending    = "otp_pending"
)

// AuthService runs the login state machine: guard screen, credential check,
// optional step-up, session issuance.
type AuthService struct {
	accounts AccountRepository
	guard    *GuardService
	otp      OTPProvider
	stepup   StepUpResolver
	tm       *auth.TokenManager
	totp     *auth.TOTPManager
	events   EventRecorder
	logger   *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(accounts AccountRepository, guard *GuardService, otp OTPProvider, stepup StepUpResolver, tm *auth.TokenManager, totp *auth.TOTPManager, events EventRecorder, logger *slog.Logger) *AuthService {
	return &AuthService{
		accounts: accounts,
		guard:    guard,
		otp:      otp,
		stepup:   stepup,
		tm:       tm,
		totp:     totp,
		events:   events,
		logger:   logger,
	}
}

// LoginRequest is one credential submission
type LoginRequest struct {
	GuardRequest
	Password string
}

// AccountResponse represents an account in HTTP responses
type AccountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	LastLogin string `json:"last_login,omitempty"`
}

// LoginResult is the outcome of a login or OTP verification
type LoginResult struct {
	State        string           `json:"state"`
	AccessToken  string           `json:"access_token,omitempty"`
	PendingToken string           `json:"pending_token,omitempty"`
	Channel      string           `json:"channel,omitempty"`
	Account      *AccountResponse `json:"account,omitempty"`
}

func toAccountResponse(account *models.Account) *AccountResponse {
	resp := &AccountResponse{
		ID:    account.ID,
		Email: account.Email,
		Role:  account.Role,
	}
	if account.LastSuccessfulLoginAt != nil {
		resp.LastLogin = account.LastSuccessfulLoginAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Login authenticates a credential submission. Unknown emails and wrong
// passwords return the same models.ErrUnauthorized, and the unknown-email
// path burns a bcrypt comparison so timing does not separate the two.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	sc, err := s.guard.Evaluate(ctx, req.GuardRequest)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, sc.Email())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkgauth.BurnComparison(req.Password)
			sc.RecordFailure(ctx, models.FailureReasonInvalidCredentials)
			return nil, models.ErrUnauthorized
		}
		// The guard admitted this attempt, so it still gets a ledger row
		// even though the credential store never answered.
		sc.RecordFailure(ctx, models.FailureReasonInfrastructureError)
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	sc.SetAccount(account.ID)

	if err := pkgauth.ComparePassword(account.PasswordHash, req.Password); err != nil {
		sc.RecordFailure(ctx, models.FailureReasonInvalidCredentials)
		return nil, models.ErrUnauthorized
	}

	s.events.Record(ctx, NewEvent(
		models.EventPasswordVerified, models.SeverityLow,
		account.ID, account.Email, req.IPAddress, sc.Fingerprint().Hash,
		models.EventPayload{"attempt_type": req.AttemptType},
	))

	decision := s.stepup.Resolve(ctx, account.ID, models.ActionLogin)
	if !decision.Required {
		sc.RecordSuccess(ctx)
		return s.issueSession(account)
	}

	return s.beginStepUp(ctx, sc, account, decision, req.GuardRequest)
}

// beginStepUp moves a credential-verified login into the OTP_PENDING state
func (s *AuthService) beginStepUp(ctx context.Context, sc *SecurityContext, account *models.Account, decision *StepUpDecision, req GuardRequest) (*LoginResult, error) {
	channel := decision.Channel

	// A policy can demand an authenticator code before the user has finished
	// enrolling. Falling back to email keeps the account reachable.
	if channel == models.ChannelTOTP && account.TOTPActivatedAt == nil {
		s.logger.Warn("totp channel required but not enrolled, falling back to email",
			slog.String("email", pkglogger.SanitizedEmail(account.Email)))
		channel = models.ChannelEmail
	}

	if channel != models.ChannelTOTP {
		_, err := s.otp.Issue(ctx, IssueRequest{
			SubjectID:     account.ID,
			Email:         account.Email,
			Purpose:       models.OTPPurposeLogin,
			Channel:       channel,
			ChannelConfig: decision.ChannelConfig,
			IPAddress:     req.IPAddress,
		})
		if err != nil {
			// The credential check passed, but the attempt still ends here
			// and owes the ledger a row. Neither reason advances the account
			// lockout counter.
			if errors.Is(err, models.ErrOTPThrottled) {
				sc.RecordFailure(ctx, models.FailureReasonOTPThrottled)
			} else {
				sc.RecordFailure(ctx, models.FailureReasonInfrastructureError)
			}
			return nil, err
		}
	}

	pendingToken, err := s.tm.GeneratePendingToken(account.ID, account.Email, req.AttemptType)
	if err != nil {
		sc.RecordFailure(ctx, models.FailureReasonInfrastructureError)
		return nil, fmt.Errorf("failed to generate pending token: %w", err)
	}

	return &LoginResult{
		State:        LoginStateOTPPending,
		PendingToken: pendingToken,
		Channel:      channel,
	}, nil
}

// VerifyOTPRequest is one step-up code submission
type VerifyOTPRequest struct {
	PendingToken   string
	Code           string
	IPAddress      string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// VerifyOTP completes a pending login. A rejected code is ledgered as an
// invalid_otp failure, which counts against the source address but not
// against the account lockout counter. The attempt surface comes from the
// pending token, so an admin login stays on the admin surface through the
// step-up phase.
func (s *AuthService) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*LoginResult, error) {
	claims, err := s.tm.ValidatePendingToken(req.PendingToken)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	attemptType := claims.AttemptType
	if attemptType == "" {
		attemptType = models.AttemptTypeCustomer
	}

	sc, err := s.guard.Evaluate(ctx, GuardRequest{
		Email:          claims.Email,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		AcceptLanguage: req.AcceptLanguage,
		AcceptEncoding: req.AcceptEncoding,
		AttemptType:    attemptType,
	})
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// The account vanished after the credential check. From outside
			// this is indistinguishable from a bad credential.
			sc.RecordFailure(ctx, models.FailureReasonInvalidCredentials)
			return nil, models.ErrUnauthorized
		}
		sc.RecordFailure(ctx, models.FailureReasonInfrastructureError)
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	sc.SetAccount(account.ID)

	decision := s.stepup.Resolve(ctx, account.ID, models.ActionLogin)
	if decision.Required && decision.Channel == models.ChannelTOTP && account.TOTPActivatedAt != nil {
		if err := s.verifyTOTPCode(ctx, account, req.Code, req.IPAddress); err != nil {
			sc.RecordFailure(ctx, models.FailureReasonInvalidOTP)
			return nil, err
		}
	} else {
		err := s.otp.Verify(ctx, account.ID, account.Email, models.OTPPurposeLogin, req.Code, req.IPAddress)
		if err != nil {
			if errors.Is(err, models.ErrOTPInvalid) {
				sc.RecordFailure(ctx, models.FailureReasonInvalidOTP)
				return nil, models.ErrOTPInvalid
			}
			sc.RecordFailure(ctx, models.FailureReasonInfrastructureError)
			return nil, err
		}
	}

	sc.RecordSuccess(ctx)
	return s.issueSession(account)
}

// verifyTOTPCode checks an authenticator code against the stored secret
func (s *AuthService) verifyTOTPCode(ctx context.Context, account *models.Account, code, ipAddress string) error {
	secret, err := s.totp.DecryptSecret(account.TOTPSecretEncrypted, account.TOTPSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrOTPInvalid
	}

	valid, err := s.totp.ValidateCode(secret, code)
	if err != nil || !valid {
		s.events.Record(ctx, NewEvent(
			models.EventOTPRejected, models.SeverityMedium,
			account.ID, account.Email, ipAddress, "",
			models.EventPayload{"purpose": models.OTPPurposeLogin, "channel": models.ChannelTOTP},
		))
		return models.ErrOTPInvalid
	}

	s.events.Record(ctx, NewEvent(
		models.EventOTPVerified, models.SeverityLow,
		account.ID, account.Email, ipAddress, "",
		models.EventPayload{"purpose": models.OTPPurposeLogin, "channel": models.ChannelTOTP},
	))
	return nil
}

// ResendOTP re-issues the pending login code. Issuance throttling in the OTP
// service caps how often this can fire per subject.
func (s *AuthService) ResendOTP(ctx context.Context, pendingToken, ipAddress string) (string, error) {
	claims, err := s.tm.ValidatePendingToken(pendingToken)
	if err != nil {
		return "", models.ErrUnauthorized
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrUnauthorized
		}
		return "", fmt.Errorf("failed to load account: %w", err)
	}

	decision := s.stepup.Resolve(ctx, account.ID, models.ActionLogin)
	if !decision.Required || decision.Channel == models.ChannelTOTP {
		return "", models.ErrBadRequest
	}

	if _, err := s.otp.Issue(ctx, IssueRequest{
		SubjectID:     account.ID,
		Email:         account.Email,
		Purpose:       models.OTPPurposeLogin,
		Channel:       decision.Channel,
		ChannelConfig: decision.ChannelConfig,
		IPAddress:     ipAddress,
	}); err != nil {
		return "", err
	}

	return decision.Channel, nil
}

// issueSession mints the access token for a fully authenticated login
func (s *AuthService) issueSession(account *models.Account) (*LoginResult, error) {
	token, err := s.tm.GenerateAccessToken(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &LoginResult{
		State:       LoginStateAuthenticated,
		AccessToken: token,
		Account:     toAccountResponse(account),
	}, nil
}

// TOTPEnrollmentResult carries the provisioning material back to the client
type TOTPEnrollmentResult struct {
	Secret    string `json:"secret"`
	QRDataURL string `json:"qr_data_url"`
}

// EnrollTOTP generates and stores a new authenticator secret for the account.
// The secret stays inactive until ActivateTOTP proves the client has it.
func (s *AuthService) EnrollTOTP(ctx context.Context, accountID string) (*TOTPEnrollmentResult, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	enrollment, err := s.totp.GenerateEnrollment(account.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate enrollment: %w", err)
	}

	if err := s.accounts.SaveTOTPEnrollment(ctx, account.ID, enrollment.EncryptedSecret, enrollment.Nonce); err != nil {
		return nil, fmt.Errorf("failed to save enrollment: %w", err)
	}

	return &TOTPEnrollmentResult{
		Secret:    enrollment.Secret,
		QRDataURL: enrollment.QRDataURL,
	}, nil
}

// ActivateTOTP verifies a first authenticator code and turns the channel on
func (s *AuthService) ActivateTOTP(ctx context.Context, accountID, code string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	if len(account.TOTPSecretEncrypted) == 0 {
		return models.ErrTOTPNotEnrolled
	}

	secret, err := s.totp.DecryptSecret(account.TOTPSecretEncrypted, account.TOTPSecretNonce)
	if err != nil {
		return fmt.Errorf("failed to decrypt secret: %w", err)
	}

	valid, err := s.totp.ValidateCode(secret, code)
	if err != nil {
		return fmt.Errorf("failed to validate code: %w", err)
	}
	if !valid {
		return models.ErrOTPInvalid
	}

	if err := s.accounts.ActivateTOTP(ctx, account.ID); err != nil {
		return fmt.Errorf("failed to activate totp: %w", err)
	}

	s.events.Record(ctx, NewEvent(
		models.EventTOTPEnrolled, models.SeverityLow,
		account.ID, account.Email, "", "",
		nil,
	))

	return nil
}
