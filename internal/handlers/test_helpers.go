package handlers

import (
	"context"

	"github.com/BradenHooton/bastion/internal/services"
)

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc        func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	VerifyOTPFunc    func(ctx context.Context, req services.VerifyOTPRequest) (*services.LoginResult, error)
	ResendOTPFunc    func(ctx context.Context, pendingToken, ipAddress string) (string, error)
	EnrollTOTPFunc   func(ctx context.Context, accountID string) (*services.TOTPEnrollmentResult, error)
	ActivateTOTPFunc func(ctx context.Context, accountID, code string) error
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockAuthService) VerifyOTP(ctx context.Context, req services.VerifyOTPRequest) (*services.LoginResult, error) {
	if m.VerifyOTPFunc != nil {
		return m.VerifyOTPFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockAuthService) ResendOTP(ctx context.Context, pendingToken, ipAddress string) (string, error) {
	if m.ResendOTPFunc != nil {
		return m.ResendOTPFunc(ctx, pendingToken, ipAddress)
	}
	return "", nil
}

func (m *MockAuthService) EnrollTOTP(ctx context.Context, accountID string) (*services.TOTPEnrollmentResult, error) {
	if m.EnrollTOTPFunc != nil {
		return m.EnrollTOTPFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockAuthService) ActivateTOTP(ctx context.Context, accountID, code string) error {
	if m.ActivateTOTPFunc != nil {
		return m.ActivateTOTPFunc(ctx, accountID, code)
	}
	return nil
}
