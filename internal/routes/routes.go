package routes

import (
	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	tokenManager *auth.TokenManager,
) {
	// Edge request cap for auth endpoints. The abuse engine behind the
	// handlers counts failures; this just sheds raw floods.
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/auth/login", authHandler.Login)
		r.Post("/admin/login", authHandler.AdminLogin)
		r.Post("/auth/otp/verify", authHandler.VerifyOTP)
		r.Post("/auth/otp/resend", authHandler.ResendOTP)
	})

	// Protected routes - access token required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))

		r.Post("/auth/totp/enroll", authHandler.EnrollTOTP)
		r.Post("/auth/totp/activate", authHandler.ActivateTOTP)
	})
}
