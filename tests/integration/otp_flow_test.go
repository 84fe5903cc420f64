package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
)

func newOTPService(db *TestDB, email *services.MockEmailSender, chatbot *services.MockChatbotSender) *services.OTPService {
	_, _, _, challengeRepo, _ := InitializeRepositories(db.DB)
	cfg := config.OTPConfig{CodeLength: 6, DefaultTTL: 10 * time.Minute}
	return services.NewOTPService(challengeRepo, email, chatbot, newEventService(db), cfg, integrationLogger())
}

func storedCode(t *testing.T, db *TestDB, subjectID string) string {
	t.Helper()

	var code string
	err := db.Pool.QueryRow(context.Background(),
		"SELECT code FROM otp_challenges WHERE subject_id = $1 ORDER BY created_at DESC LIMIT 1",
		subjectID).Scan(&code)
	require.NoError(t, err)
	return code
}

func TestOTP_IssueThenVerify(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	email := &services.MockEmailSender{}
	svc := newOTPService(db, email, &services.MockChatbotSender{})

	challenge, err := svc.Issue(ctx, services.IssueRequest{
		SubjectID: account.ID,
		Email:     account.Email,
		Purpose:   models.OTPPurposeLogin,
		Channel:   models.ChannelEmail,
		IPAddress: "203.0.113.10",
	})
	require.NoError(t, err)
	assert.Len(t, email.Sent, 1, "issuance must dispatch the code")
	assert.Len(t, email.Sent[0], 6)

	code := storedCode(t, db, account.ID)
	assert.Equal(t, email.Sent[0], code, "dispatched code must match the stored challenge")
	assert.False(t, challenge.Consumed)

	err = svc.Verify(ctx, account.ID, account.Email, models.OTPPurposeLogin, code, "203.0.113.10")
	assert.NoError(t, err)

	// A consumed code never verifies again
	err = svc.Verify(ctx, account.ID, account.Email, models.OTPPurposeLogin, code, "203.0.113.10")
	assert.ErrorIs(t, err, models.ErrOTPInvalid)
}

func TestOTP_WrongCodeRejected(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	svc := newOTPService(db, &services.MockEmailSender{}, &services.MockChatbotSender{})

	_, err = svc.Issue(ctx, services.IssueRequest{
		SubjectID: account.ID,
		Email:     account.Email,
		Purpose:   models.OTPPurposeLogin,
		Channel:   models.ChannelEmail,
	})
	require.NoError(t, err)

	err = svc.Verify(ctx, account.ID, account.Email, models.OTPPurposeLogin, "000000", "203.0.113.10")
	assert.ErrorIs(t, err, models.ErrOTPInvalid)

	// The real code must still be live after a failed guess
	code := storedCode(t, db, account.ID)
	if code != "000000" {
		err = svc.Verify(ctx, account.ID, account.Email, models.OTPPurposeLogin, code, "203.0.113.10")
		assert.NoError(t, err)
	}
}

func TestOTP_ConcurrentConsume_ExactlyOneWins(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	_, _, _, challengeRepo, _ := InitializeRepositories(db.DB)

	_, err = challengeRepo.Create(ctx, &models.OtpChallenge{
		SubjectID: account.ID,
		Code:      "123456",
		Purpose:   models.OTPPurposeLogin,
		Channel:   models.ChannelEmail,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumed, err := challengeRepo.ConsumeMatching(ctx, account.ID, models.OTPPurposeLogin, "123456")
			assert.NoError(t, err)
			if consumed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "a code is single use even under races")
}

func TestOTP_ExpiredChallengeNotConsumable(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	_, _, _, challengeRepo, _ := InitializeRepositories(db.DB)

	_, err = challengeRepo.Create(ctx, &models.OtpChallenge{
		SubjectID: account.ID,
		Code:      "123456",
		Purpose:   models.OTPPurposeLogin,
		Channel:   models.ChannelEmail,
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	consumed, err := challengeRepo.ConsumeMatching(ctx, account.ID, models.OTPPurposeLogin, "123456")
	require.NoError(t, err)
	assert.False(t, consumed, "expired codes must never consume")
}

func TestOTP_ReissueCapWithinWindow(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	svc := newOTPService(db, &services.MockEmailSender{}, &services.MockChatbotSender{})

	req := services.IssueRequest{
		SubjectID: account.ID,
		Email:     account.Email,
		Purpose:   models.OTPPurposeLogin,
		Channel:   models.ChannelEmail,
	}

	for i := 0; i < 5; i++ {
		_, err := svc.Issue(ctx, req)
		require.NoError(t, err)
	}

	_, err = svc.Issue(ctx, req)
	assert.ErrorIs(t, err, models.ErrOTPThrottled)

	// Once the earlier issuances age out, issuance resumes
	require.NoError(t, BackdateChallenges(ctx, db.Pool, account.ID, time.Hour))

	_, err = svc.Issue(ctx, req)
	assert.NoError(t, err)
}

func TestOTP_ReissuedCodesEachConsumableOnce(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	email := &services.MockEmailSender{}
	svc := newOTPService(db, email, &services.MockChatbotSender{})

	req := services.IssueRequest{
		SubjectID: account.ID,
		Email:     account.Email,
		Purpose:   models.OTPPurposeLogin,
		Channel:   models.ChannelEmail,
	}

	_, err = svc.Issue(ctx, req)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, req)
	require.NoError(t, err)
	require.Len(t, email.Sent, 2)

	first, second := email.Sent[0], email.Sent[1]
	if first == second {
		t.Skip("generated codes collided; nothing to distinguish")
	}

	// Reissuing does not revoke the earlier code; each consumes exactly once
	assert.NoError(t, svc.Verify(ctx, account.ID, account.Email, models.OTPPurposeLogin, second, "203.0.113.10"))
	assert.NoError(t, svc.Verify(ctx, account.ID, account.Email, models.OTPPurposeLogin, first, "203.0.113.10"))
	assert.ErrorIs(t, svc.Verify(ctx, account.ID, account.Email, models.OTPPurposeLogin, second, "203.0.113.10"), models.ErrOTPInvalid)
}

func TestTwoFactorPolicy_ResolvedFromDatabase(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)
	require.NoError(t, SeedTwoFactorPolicy(ctx, db.Pool, account.ID, models.ChannelChatbot, []string{models.ActionLogin}))

	_, _, _, _, policyRepo := InitializeRepositories(db.DB)
	svc := services.NewTwoFactorService(policyRepo, newEventService(db), integrationLogger())

	decision := svc.Resolve(ctx, account.ID, models.ActionLogin)
	assert.True(t, decision.Required)
	assert.Equal(t, models.ChannelChatbot, decision.Channel)

	decision = svc.Resolve(ctx, account.ID, models.ActionPayout)
	assert.False(t, decision.Required, "actions outside the policy need no step-up")
}

func TestTwoFactorPolicy_AbsentMeansDisabled(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()

	account, err := SeedAccount(ctx, db.Pool, "victim@example.com", "correct-horse-battery")
	require.NoError(t, err)

	_, _, _, _, policyRepo := InitializeRepositories(db.DB)
	svc := services.NewTwoFactorService(policyRepo, newEventService(db), integrationLogger())

	decision := svc.Resolve(ctx, account.ID, models.ActionLogin)
	assert.False(t, decision.Required)
}
