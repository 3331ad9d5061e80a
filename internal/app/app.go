// Package app wires configuration, storage, services and HTTP routing into a
// runnable server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/repositories/memory"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/BradenHooton/warden/pkg/obfuscate"
	"github.com/redis/go-redis/v9"
)

// identityStore is the identity and backup-code persistence both drivers provide
type identityStore interface {
	services.IdentityRepository
	services.BackupCodeRepository
}

type loginAttemptStore interface {
	services.RateLimitRepository
	background.LoginAttemptCleaner
}

type mfaAttemptStore interface {
	services.MFAAttemptRepository
	background.MFAAttemptCleaner
}

type revocationStore interface {
	auth.SessionRevocationStore
	background.SessionCleaner
}

type stores struct {
	identities  identityStore
	attempts    loginAttemptStore
	mfaAttempts mfaAttemptStore
	revocations revocationStore
	health      handlers.HealthChecker
	close       func()
}

// App is a fully wired server
type App struct {
	Handler http.Handler
	Admins  *services.AdminService
	Cleanup *background.CleanupManager

	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New builds every component from cfg. Postgres migrations run before the
// pool is opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.close)

	if cfg.MFA.EphemeralKey {
		logger.Warn("MFA_ENCRYPTION_KEY not set, using an ephemeral key; enrolled authenticators will not survive a restart")
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	codec, err := obfuscate.NewCodec(cfg.Auth.ObfuscationKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid obfuscation key: %w", err)
	}

	totp, err := auth.NewTOTPEngine(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create totp engine: %w", err)
	}

	sessions := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		Secret:            cfg.Auth.SessionSecret,
		SessionExpiry:     cfg.Auth.SessionExpiry,
		ChangeTokenExpiry: cfg.Auth.ChangeTokenExpiry,
		FailClosed:        cfg.Auth.RevocationFailClosed,
	}, st.revocations)

	verifier, err := services.NewCredentialVerifier(st.identities, cfg.Auth.BcryptCost, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	mfaLimiter, err := a.mfaLimiter(ctx, st)
	if err != nil {
		a.Close()
		return nil, err
	}

	rateLimiter := services.NewRateLimitService(st.attempts, services.RateLimitConfig{
		MaxFailedAttemptsPerEmail:    cfg.RateLimit.MaxFailedAttemptsPerEmail,
		EmailLockoutDuration:         cfg.RateLimit.EmailLockoutDuration,
		MaxAttemptsPerIP:             cfg.RateLimit.MaxAttemptsPerIP,
		MaxAttemptsPerDevice:         cfg.RateLimit.MaxAttemptsPerDevice,
		LookbackWindow:               cfg.RateLimit.LookbackWindow,
		ProgressiveLockoutMultiplier: cfg.RateLimit.ProgressiveLockoutMultiplier,
		MaxLockoutDuration:           cfg.RateLimit.MaxLockoutDuration,
	}, logger)

	vault := services.NewBackupCodeVault(st.identities, cfg.MFA.BackupCodeCount, cfg.Auth.BcryptCost)
	secondFactor := services.NewSecondFactorVerifier(st.identities, totp, vault)

	loginService := services.NewLoginService(services.LoginDeps{
		Codec:        codec,
		RateLimiter:  rateLimiter,
		Verifier:     verifier,
		SecondFactor: secondFactor,
		MFALimiter:   mfaLimiter,
		Identities:   st.identities,
		Sessions:     sessions,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelayMs:   cfg.Auth.TimingBaseDelayMs,
			RandomDelayMs: cfg.Auth.TimingRandomDelayMs,
		}),
		Logger:      logger,
		AuditLogger: auditLogger,
	})
	mfaService := services.NewMFAService(st.identities, totp, vault, secondFactor, mfaLimiter, logger, auditLogger)
	accountService := services.NewAccountService(st.identities, vault, sessions, cfg.Auth.BcryptCost, logger, auditLogger)
	a.Admins = services.NewAdminService(st.identities, mfaService, cfg.Auth.BcryptCost, logger, auditLogger)

	cookies := auth.CookieConfig{
		Domain:   cfg.Auth.CookieDomain,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: "strict",
	}
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)

	h := routes.Handlers{
		Auth:     handlers.NewAuthHandler(loginService, accountService, sessions, cookies, ipConfig, logger),
		Settings: handlers.NewSettingsHandler(accountService, mfaService, cookies, logger),
		Admin:    handlers.NewAdminHandler(a.Admins, logger),
		Health:   handlers.NewHealthHandler(st.health, cfg.Storage.Driver, logger),
	}

	a.Handler = routes.NewRouter(routes.Options{
		Env:            cfg.Server.Env,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		LoginLimit:     middleware.RateLimitConfig{RequestsPerMinute: cfg.RateLimit.LoginRequestsPerMinute},
		Logger:         logger,
	}, h, auth.NewAuthenticator(sessions, st.identities, logger), sessions)

	var mfaCleaner background.MFAAttemptCleaner
	if _, ok := mfaLimiter.(*services.StoreMFALimiter); ok {
		mfaCleaner = st.mfaAttempts
	}
	a.Cleanup = background.NewCleanupManager(st.revocations, st.attempts, mfaCleaner, cfg.MFA.AttemptWindow, logger, cfg.Auth.CleanupInterval)

	return a, nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage, all state is lost on restart")
		store := memory.NewStore()
		return &stores{
			identities:  store,
			attempts:    store,
			mfaAttempts: store,
			revocations: store,
			close:       func() {},
		}, nil

	case config.StorageDriverPostgres:
		if err := database.Migrate(ctx, cfg.Database.DSN(), logger); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return &stores{
			identities:  repositories.NewIdentityRepository(db),
			attempts:    repositories.NewLoginAttemptRepository(db),
			mfaAttempts: repositories.NewMFAAttemptRepository(db),
			revocations: repositories.NewSessionRevocationRepository(db),
			health:      db,
			close:       db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// mfaLimiter shares second-factor failure counts through Redis when it is
// configured, and keeps them in the store otherwise
func (a *App) mfaLimiter(ctx context.Context, st *stores) (services.MFAAttemptLimiter, error) {
	if a.cfg.Redis.Addr == "" {
		return services.NewStoreMFALimiter(st.mfaAttempts, a.cfg.MFA.MaxAttempts, a.cfg.MFA.AttemptWindow), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.logger.Info("mfa attempt limiter backed by redis", slog.String("addr", a.cfg.Redis.Addr))

	return services.NewRedisMFALimiter(client, a.cfg.MFA.MaxAttempts, a.cfg.MFA.AttemptWindow), nil
}

// Bootstrap creates the first super admin when one is configured and none exists
func (a *App) Bootstrap(ctx context.Context) error {
	b := a.cfg.Bootstrap
	if b.SuperAdminEmail == "" || b.SuperAdminPassword == "" {
		a.logger.Info("no bootstrap super admin configured")
		return nil
	}

	created, err := a.Admins.BootstrapSuperAdmin(ctx, b.SuperAdminEmail, b.SuperAdminUsername, b.SuperAdminPassword)
	if err != nil {
		return fmt.Errorf("failed to bootstrap super admin: %w", err)
	}
	if created {
		a.logger.Info("bootstrap super admin created", slog.String("email", pkglogger.SanitizedEmail(b.SuperAdminEmail)))
	}
	return nil
}

// Close releases storage and cache connections in reverse order
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
