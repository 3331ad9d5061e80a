package routes

import (
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Handlers groups every HTTP handler the router serves
type Handlers struct {
	Auth     *handlers.AuthHandler
	Settings *handlers.SettingsHandler
	Admin    *handlers.AdminHandler
	Health   *handlers.HealthHandler
}

// Options configures the router-wide middleware
type Options struct {
	Env            string
	AllowedOrigins []string
	RequestTimeout time.Duration
	LoginLimit     middleware.RateLimitConfig
	IdentityLimit  middleware.RateLimitConfig
	Logger         *slog.Logger
}

// NewRouter builds the application router with the global middleware chain
func NewRouter(opts Options, h Handlers, authenticator *auth.Authenticator, csrf middleware.CSRFValidator) chi.Router {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecureLogger(opts.Logger, opts.Env))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(opts.RequestTimeout))
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: opts.Env}))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(opts.AllowedOrigins)))

	RegisterRoutes(router, h, authenticator, csrf, opts)
	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	authenticator *auth.Authenticator,
	csrf middleware.CSRFValidator,
	opts Options,
) {
	loginLimit := opts.LoginLimit
	if loginLimit.RequestsPerMinute <= 0 {
		loginLimit = middleware.DefaultAuthRateLimit()
	}
	identityLimit := opts.IdentityLimit
	if identityLimit.RequestsPerMinute <= 0 {
		identityLimit = middleware.RateLimitConfig{RequestsPerMinute: 120}
	}

	router.Get("/health", h.Health.Health)

	// Public routes
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/api/v1/manager/login", h.Auth.Login)
	router.Get("/api/v1/logout", h.Auth.Logout)
	router.Post("/api/v1/logout", h.Auth.Logout)

	router.Route("/admin", func(r chi.Router) {
		// password rotation also accepts the change token issued at login
		r.Group(func(r chi.Router) {
			r.Use(authenticator.RequireSessionOrChangeToken)
			r.Use(middleware.CSRFProtection(csrf, opts.Logger))
			r.Use(middleware.RateLimitByIP(loginLimit))
			r.Put("/settings/password", h.Settings.ChangePassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticator.RequireSession)
			r.Use(middleware.CSRFProtection(csrf, opts.Logger))
			r.Use(middleware.RateLimitByIdentity(identityLimit))

			r.Get("/settings/profile", h.Settings.GetProfile)
			r.Put("/settings/profile", h.Settings.UpdateProfile)
			r.Get("/settings/2fa/backup-codes", h.Settings.BackupCodes)

			// code-checking endpoints also get the login limit
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(loginLimit))
				r.Post("/settings/2fa/setup", h.Settings.SetupMFA)
				r.Post("/settings/2fa/verify", h.Settings.VerifyMFA)
				r.Post("/settings/2fa/disable", h.Settings.DisableMFA)
				r.Post("/settings/2fa/regenerate-backup", h.Settings.RegenerateBackupCodes)
			})

			r.Route("/management", func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleSuperAdmin))
				r.Get("/stats", h.Admin.GetStats)
				r.Get("/admins", h.Admin.ListAdmins)
				r.Post("/admins", h.Admin.CreateAdmin)
				r.Delete("/admins/{id}", h.Admin.DeleteAdmin)
				r.Put("/admins/{id}/block", h.Admin.BlockAdmin)
				r.Put("/admins/{id}/unblock", h.Admin.UnblockAdmin)
				r.Post("/admins/{id}/reset-password", h.Admin.ResetPassword)
				r.Post("/admins/{id}/reset-mfa", h.Admin.ResetMFA)
			})
		})
	})
}
