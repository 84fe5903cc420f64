package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type authFixture struct {
	accounts *services.MockAccountRepository
	lockout  *services.MockLockoutGuard
	ip       *services.MockIPGuard
	ledger   *services.MockLoginAttemptRepository
	otp      *services.MockOTPProvider
	stepup   *services.MockStepUpResolver
	events   *services.MockEventRecorder
	svc      *services.AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	f := &authFixture{
		accounts: &services.MockAccountRepository{},
		lockout:  &services.MockLockoutGuard{},
		ip:       &services.MockIPGuard{},
		ledger:   &services.MockLoginAttemptRepository{},
		otp:      &services.MockOTPProvider{},
		stepup:   &services.MockStepUpResolver{},
		events:   &services.MockEventRecorder{},
	}

	delay := auth.NewProgressiveDelay(auth.DelayConfig{Base: time.Millisecond, Max: 2 * time.Millisecond})
	guard := services.NewGuardService(f.lockout, f.ip, f.ledger, f.events, delay, testGuardConfig(), testLogger())

	tm := auth.NewTokenManager("test-secret-that-is-long-enough", 15*time.Minute, 10*time.Minute)
	totp, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "BastionTest")
	require.NoError(t, err)

	f.svc = services.NewAuthService(f.accounts, guard, f.otp, f.stepup, tm, totp, f.events, testLogger())
	return f
}

func hashForTest(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func (f *authFixture) knownAccount(t *testing.T, password string) *models.Account {
	account := &models.Account{
		ID:           "acc-1",
		Email:        "user@example.com",
		PasswordHash: hashForTest(t, password),
		Role:         "customer",
	}
	f.accounts.GetByEmailFunc = func(ctx context.Context, email string) (*models.Account, error) {
		if email == account.Email {
			return account, nil
		}
		return nil, models.ErrNotFound
	}
	f.accounts.GetByIDFunc = func(ctx context.Context, id string) (*models.Account, error) {
		if id == account.ID {
			return account, nil
		}
		return nil, models.ErrNotFound
	}
	return account
}

func loginRequest(email, password string) services.LoginRequest {
	return services.LoginRequest{
		GuardRequest: services.GuardRequest{
			Email:       email,
			IPAddress:   "10.0.0.1",
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0",
			AttemptType: models.AttemptTypeCustomer,
		},
		Password: password,
	}
}

func TestLogin_Success_NoStepUp(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")

	result, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "correct-password"))

	require.NoError(t, err)
	assert.Equal(t, services.LoginStateAuthenticated, result.State)
	assert.NotEmpty(t, result.AccessToken)
	assert.Empty(t, result.PendingToken)
	assert.Equal(t, 1, f.lockout.Successes)
	assert.True(t, f.events.HasEvent(models.EventPasswordVerified))
	assert.True(t, f.events.HasEvent(models.EventLoginSucceeded))
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")

	result, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "wrong-password"))

	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, 1, f.lockout.Failures)
	assert.True(t, f.events.HasEvent(models.EventLoginFailed))
}

func TestLogin_UnknownEmailMatchesWrongPassword(t *testing.T) {
	// The two failure modes must be indistinguishable from the outside.
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")

	_, unknownErr := f.svc.Login(context.Background(), loginRequest("ghost@example.com", "whatever"))
	_, wrongErr := f.svc.Login(context.Background(), loginRequest("user@example.com", "wrong-password"))

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Equal(t, wrongErr.Error(), unknownErr.Error())
	assert.ErrorIs(t, unknownErr, models.ErrUnauthorized)
	assert.ErrorIs(t, wrongErr, models.ErrUnauthorized)
}

func TestLogin_LockedAccountSkipsCredentialCheck(t *testing.T) {
	f := newAuthFixture(t)
	f.lockout.IsAccountLockedFunc = func(ctx context.Context, email string) (*models.LockStatus, error) {
		return &models.LockStatus{Locked: true, Attempts: 5, MinutesRemaining: 20}, nil
	}

	credentialChecked := false
	f.accounts.GetByEmailFunc = func(ctx context.Context, email string) (*models.Account, error) {
		credentialChecked = true
		return nil, models.ErrNotFound
	}

	_, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "correct-password"))

	var lockedErr *models.AccountLockedError
	require.ErrorAs(t, err, &lockedErr)
	assert.Equal(t, 20, lockedErr.MinutesRemaining)
	assert.False(t, credentialChecked, "locked account must be rejected before any credential work")
}

func TestLogin_StepUpRequired_EmailChannel(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	f.stepup.ResolveFunc = func(ctx context.Context, userID, actionType string) *services.StepUpDecision {
		assert.Equal(t, models.ActionLogin, actionType)
		return &services.StepUpDecision{Required: true, Channel: models.ChannelEmail}
	}

	result, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "correct-password"))

	require.NoError(t, err)
	assert.Equal(t, services.LoginStateOTPPending, result.State)
	assert.NotEmpty(t, result.PendingToken)
	assert.Empty(t, result.AccessToken)
	assert.Equal(t, models.ChannelEmail, result.Channel)

	require.Len(t, f.otp.Issued, 1)
	assert.Equal(t, "acc-1", f.otp.Issued[0].SubjectID)
	assert.Equal(t, models.OTPPurposeLogin, f.otp.Issued[0].Purpose)

	// Login is not complete until the code verifies
	assert.Equal(t, 0, f.lockout.Successes)
}

func TestLogin_StepUpDispatchFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	f.stepup.ResolveFunc = func(ctx context.Context, userID, actionType string) *services.StepUpDecision {
		return &services.StepUpDecision{Required: true, Channel: models.ChannelEmail}
	}
	f.otp.IssueFunc = func(ctx context.Context, req services.IssueRequest) (*models.OtpChallenge, error) {
		return nil, models.ErrOTPDispatch
	}

	_, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "correct-password"))

	assert.ErrorIs(t, err, models.ErrOTPDispatch)
	// A correct password with an undeliverable code never advances the
	// lockout counter, but the attempt still lands on the ledger.
	assert.Equal(t, 0, f.lockout.Failures)
	require.Len(t, f.ledger.Recorded, 1)
	require.NotNil(t, f.ledger.Recorded[0].FailureReason)
	assert.Equal(t, models.FailureReasonInfrastructureError, *f.ledger.Recorded[0].FailureReason)
}

func TestLogin_CredentialStoreErrorStillLedgered(t *testing.T) {
	// Once the guard admits an attempt it owes the ledger a row, even when
	// the credential store never answers.
	f := newAuthFixture(t)
	f.accounts.GetByEmailFunc = func(ctx context.Context, email string) (*models.Account, error) {
		return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	}

	_, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "whatever"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrUnauthorized)
	require.Len(t, f.ledger.Recorded, 1)
	require.NotNil(t, f.ledger.Recorded[0].FailureReason)
	assert.Equal(t, models.FailureReasonInfrastructureError, *f.ledger.Recorded[0].FailureReason)
	assert.Equal(t, 0, f.lockout.Failures, "an unjudged attempt must not advance the lockout counter")
}

func TestLogin_TOTPChannelSkipsIssuance(t *testing.T) {
	f := newAuthFixture(t)
	account := f.knownAccount(t, "correct-password")
	activated := time.Now()
	account.TOTPActivatedAt = &activated
	f.stepup.ResolveFunc = func(ctx context.Context, userID, actionType string) *services.StepUpDecision {
		return &services.StepUpDecision{Required: true, Channel: models.ChannelTOTP}
	}

	result, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "correct-password"))

	require.NoError(t, err)
	assert.Equal(t, services.LoginStateOTPPending, result.State)
	assert.Equal(t, models.ChannelTOTP, result.Channel)
	assert.Empty(t, f.otp.Issued)
}

func TestLogin_TOTPNotEnrolledFallsBackToEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	f.stepup.ResolveFunc = func(ctx context.Context, userID, actionType string) *services.StepUpDecision {
		return &services.StepUpDecision{Required: true, Channel: models.ChannelTOTP}
	}

	result, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "correct-password"))

	require.NoError(t, err)
	assert.Equal(t, models.ChannelEmail, result.Channel)
	require.Len(t, f.otp.Issued, 1)
	assert.Equal(t, models.ChannelEmail, f.otp.Issued[0].Channel)
}

func pendingTokenFor(t *testing.T, f *authFixture, password string) string {
	t.Helper()
	f.stepup.ResolveFunc = func(ctx context.Context, userID, actionType string) *services.StepUpDecision {
		return &services.StepUpDecision{Required: true, Channel: models.ChannelEmail}
	}
	result, err := f.svc.Login(context.Background(), loginRequest("user@example.com", password))
	require.NoError(t, err)
	return result.PendingToken
}

func TestVerifyOTP_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	token := pendingTokenFor(t, f, "correct-password")

	f.otp.VerifyFunc = func(ctx context.Context, subjectID, email, purpose, code, ip string) error {
		assert.Equal(t, "acc-1", subjectID)
		assert.Equal(t, "123456", code)
		return nil
	}

	result, err := f.svc.VerifyOTP(context.Background(), services.VerifyOTPRequest{
		PendingToken: token,
		Code:         "123456",
		IPAddress:    "10.0.0.1",
		UserAgent:    "Mozilla/5.0",
	})

	require.NoError(t, err)
	assert.Equal(t, services.LoginStateAuthenticated, result.State)
	assert.NotEmpty(t, result.AccessToken)
	assert.Equal(t, 1, f.lockout.Successes)
}

func TestVerifyOTP_InvalidCodeDoesNotAdvanceLockout(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	token := pendingTokenFor(t, f, "correct-password")

	var recordedReason string
	f.ledger.RecordAttemptFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		if attempt.FailureReason != nil {
			recordedReason = *attempt.FailureReason
		}
		return nil
	}

	_, err := f.svc.VerifyOTP(context.Background(), services.VerifyOTPRequest{
		PendingToken: token,
		Code:         "000000",
		IPAddress:    "10.0.0.1",
		UserAgent:    "Mozilla/5.0",
	})

	assert.ErrorIs(t, err, models.ErrOTPInvalid)
	assert.Equal(t, 0, f.lockout.Failures, "otp rejections must not advance the account lockout counter")
	assert.Equal(t, models.FailureReasonInvalidOTP, recordedReason)
}

func TestVerifyOTP_AccountLoadErrorStillLedgered(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	token := pendingTokenFor(t, f, "correct-password")

	f.accounts.GetByIDFunc = func(ctx context.Context, id string) (*models.Account, error) {
		return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	}

	_, err := f.svc.VerifyOTP(context.Background(), services.VerifyOTPRequest{
		PendingToken: token,
		Code:         "123456",
		IPAddress:    "10.0.0.1",
		UserAgent:    "Mozilla/5.0",
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrUnauthorized)
	require.Len(t, f.ledger.Recorded, 1)
	require.NotNil(t, f.ledger.Recorded[0].FailureReason)
	assert.Equal(t, models.FailureReasonInfrastructureError, *f.ledger.Recorded[0].FailureReason)
}

func TestVerifyOTP_AdminLoginStaysOnAdminSurface(t *testing.T) {
	// The pending token pins the surface the login started on: an admin
	// step-up failure must ledger as admin, not customer.
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	f.stepup.ResolveFunc = func(ctx context.Context, userID, actionType string) *services.StepUpDecision {
		return &services.StepUpDecision{Required: true, Channel: models.ChannelEmail}
	}

	req := loginRequest("user@example.com", "correct-password")
	req.AttemptType = models.AttemptTypeAdmin
	result, err := f.svc.Login(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.PendingToken)

	_, err = f.svc.VerifyOTP(context.Background(), services.VerifyOTPRequest{
		PendingToken: result.PendingToken,
		Code:         "000000",
		IPAddress:    "10.0.0.1",
		UserAgent:    "Mozilla/5.0",
	})

	assert.ErrorIs(t, err, models.ErrOTPInvalid)
	require.NotEmpty(t, f.ledger.Recorded)
	last := f.ledger.Recorded[len(f.ledger.Recorded)-1]
	assert.Equal(t, models.AttemptTypeAdmin, last.AttemptType)
	require.NotNil(t, last.FailureReason)
	assert.Equal(t, models.FailureReasonInvalidOTP, *last.FailureReason)
}

func TestVerifyOTP_GarbageToken(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.VerifyOTP(context.Background(), services.VerifyOTPRequest{
		PendingToken: "not-a-token",
		Code:         "123456",
	})

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestVerifyOTP_AccessTokenRejected(t *testing.T) {
	// A full access token must not stand in for a pending token.
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")

	result, err := f.svc.Login(context.Background(), loginRequest("user@example.com", "correct-password"))
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)

	_, err = f.svc.VerifyOTP(context.Background(), services.VerifyOTPRequest{
		PendingToken: result.AccessToken,
		Code:         "123456",
	})

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestResendOTP_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	token := pendingTokenFor(t, f, "correct-password")
	issuedBefore := len(f.otp.Issued)

	channel, err := f.svc.ResendOTP(context.Background(), token, "10.0.0.1")

	require.NoError(t, err)
	assert.Equal(t, models.ChannelEmail, channel)
	assert.Len(t, f.otp.Issued, issuedBefore+1)
}

func TestResendOTP_NoStepUpConfigured(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")
	token := pendingTokenFor(t, f, "correct-password")

	f.stepup.ResolveFunc = func(ctx context.Context, userID, actionType string) *services.StepUpDecision {
		return &services.StepUpDecision{}
	}

	_, err := f.svc.ResendOTP(context.Background(), token, "10.0.0.1")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestEnrollAndActivateTOTP(t *testing.T) {
	f := newAuthFixture(t)
	account := f.knownAccount(t, "correct-password")

	f.accounts.SaveTOTPEnrollmentFunc = func(ctx context.Context, accountID string, encrypted, nonce []byte) error {
		account.TOTPSecretEncrypted = encrypted
		account.TOTPSecretNonce = nonce
		return nil
	}

	enrollment, err := f.svc.EnrollTOTP(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.QRDataURL, "data:image/png;base64,")
	require.NotEmpty(t, account.TOTPSecretEncrypted)

	err = f.svc.ActivateTOTP(context.Background(), "acc-1", "000000")
	assert.ErrorIs(t, err, models.ErrOTPInvalid)
}

func TestActivateTOTP_NotEnrolled(t *testing.T) {
	f := newAuthFixture(t)
	f.knownAccount(t, "correct-password")

	err := f.svc.ActivateTOTP(context.Background(), "acc-1", "123456")

	assert.ErrorIs(t, err, models.ErrTOTPNotEnrolled)
}
