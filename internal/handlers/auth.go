package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// AuthServiceInterface defines the interface for the login state machine
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	VerifyOTP(ctx context.Context, req services.VerifyOTPRequest) (*services.LoginResult, error)
	ResendOTP(ctx context.Context, pendingToken, ipAddress string) (string, error)
	EnrollTOTP(ctx context.Context, accountID string) (*services.TOTPEnrollmentResult, error)
	ActivateTOTP(ctx context.Context, accountID, code string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password" validate:"required"`
}

// VerifyOTPRequest represents the request body for step-up verification
type VerifyOTPRequest struct {
	PendingToken string `json:"pending_token" validate:"required"`
	Code         string `json:"code" validate:"required"`
}

// ResendOTPRequest represents the request body for re-issuing a code
type ResendOTPRequest struct {
	PendingToken string `json:"pending_token" validate:"required"`
}

// ActivateTOTPRequest represents the request body for authenticator activation
type ActivateTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Login handles customer login
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, models.AttemptTypeCustomer)
}

// AdminLogin handles admin login. Same state machine, separate abuse surface:
// failures here never count against the customer surface and vice versa.
// @Router /admin/login [post]
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, models.AttemptTypeAdmin)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, attemptType string) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	// An absent identifier is rejected before any guard work; this is the
	// one rejection that names its cause precisely.
	if strings.TrimSpace(req.Email) == "" {
		pkghttp.WriteMissingEmail(w)
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginRequest{
		GuardRequest: services.GuardRequest{
			Email:          req.Email,
			IPAddress:      pkghttp.ExtractClientIP(r, h.ipConfig),
			UserAgent:      r.Header.Get("User-Agent"),
			AcceptLanguage: r.Header.Get("Accept-Language"),
			AcceptEncoding: r.Header.Get("Accept-Encoding"),
			AttemptType:    attemptType,
		},
		Password: req.Password,
	})
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	// A pending step-up is not a granted session yet
	status := http.StatusOK
	if result.State == services.LoginStateOTPPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// VerifyOTP completes a pending login with a step-up code
// @Router /auth/otp/verify [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.VerifyOTP(r.Context(), services.VerifyOTPRequest{
		PendingToken:   req.PendingToken,
		Code:           req.Code,
		IPAddress:      pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	})
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ResendOTP re-issues the pending login code
// @Router /auth/otp/resend [post]
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	channel, err := h.service.ResendOTP(r.Context(), req.PendingToken, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Verification code sent.",
		"channel": channel,
	})
}

// EnrollTOTP starts authenticator-app enrollment for the authenticated account
// @Router /auth/totp/enroll [post]
func (h *AuthHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetAccountFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	enrollment, err := h.service.EnrollTOTP(r.Context(), claims.AccountID)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, enrollment)
}

// ActivateTOTP finishes authenticator-app enrollment
// @Router /auth/totp/activate [post]
func (h *AuthHandler) ActivateTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetAccountFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ActivateTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ActivateTOTP(r.Context(), claims.AccountID, req.Code); err != nil {
		h.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Authenticator activated."})
}

// writeAuthError maps service errors to HTTP responses. Credential failures
// and OTP rejections share generic bodies so responses cannot be used to
// probe which accounts exist or which codes were close.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	var ipBlocked *models.IPBlockedError
	var accountLocked *models.AccountLockedError

	switch {
	case errors.Is(err, models.ErrMissingEmail):
		pkghttp.WriteMissingEmail(w)
	case errors.As(err, &ipBlocked):
		pkghttp.WriteIPBlocked(w, int(ipBlocked.RetryAfter.Seconds()))
	case errors.As(err, &accountLocked):
		pkghttp.WriteAccountLocked(w, accountLocked.MinutesRemaining)
	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrOTPInvalid):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrOTPThrottled):
		pkghttp.WriteError(w, http.StatusTooManyRequests, "otp_throttled", "Too many codes requested. Please wait before retrying.")
	case errors.Is(err, models.ErrOTPDispatch):
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "delivery_failed", "Could not deliver verification code. Please try again.")
	case errors.Is(err, models.ErrTOTPNotEnrolled):
		pkghttp.WriteError(w, http.StatusConflict, "totp_not_enrolled", "Authenticator enrollment has not started.")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
