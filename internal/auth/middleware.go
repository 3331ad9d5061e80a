package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

type contextKey string

const principalContextKey contextKey = "principal"

// IdentityLoader fetches the current state of an identity
type IdentityLoader interface {
	GetByID(ctx context.Context, id string) (*models.Identity, error)
}

// Principal is the authenticated caller of a request
type Principal struct {
	Identity  *models.Identity
	Claims    *models.SessionClaims
	Token     string
	ViaCookie bool
}

// Authenticator resolves the identity behind each request. Identity state is
// loaded per request so blocks and password changes take effect immediately.
type Authenticator struct {
	sessions   *SessionIssuer
	identities IdentityLoader
	logger     *slog.Logger
}

func NewAuthenticator(sessions *SessionIssuer, identities IdentityLoader, logger *slog.Logger) *Authenticator {
	return &Authenticator{sessions: sessions, identities: identities, logger: logger}
}

// RequireSession admits only full sessions for identities in good standing
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return a.middleware(false, next)
}

// RequireSessionOrChangeToken also admits password-change tokens, and does not
// reject identities that still must rotate their password.
func (a *Authenticator) RequireSessionOrChangeToken(next http.Handler) http.Handler {
	return a.middleware(true, next)
}

func (a *Authenticator) middleware(allowChangeToken bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, viaCookie := extractToken(r)
		if token == "" {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}

		types := []string{models.TokenTypeSession}
		if allowChangeToken {
			types = append(types, models.TokenTypePasswordChange)
		}

		claims, err := a.sessions.Validate(r.Context(), token, types...)
		if err != nil {
			if errors.Is(err, models.ErrSessionInvalid) || errors.Is(err, models.ErrSessionRevoked) {
				pkghttp.WriteUnauthorized(w, "Invalid or expired session")
				return
			}
			a.logger.Error("session validation failed", slog.String("error", err.Error()))
			pkghttp.WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "Unable to verify session")
			return
		}

		identity, err := a.identities.GetByID(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				pkghttp.WriteUnauthorized(w, "Invalid or expired session")
				return
			}
			a.logger.Error("failed to load identity", slog.String("error", err.Error()))
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}

		if identity.IsBlocked() {
			pkghttp.WriteError(w, http.StatusForbidden, "account_blocked", "Account is blocked")
			return
		}

		// tokens minted before the last password change are dead
		if identity.PasswordChangedAt != nil && claims.IssuedAt != nil &&
			claims.IssuedAt.Time.Before(identity.PasswordChangedAt.Truncate(TokenTimePrecision)) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired session")
			return
		}

		if identity.MustChangePassword && !allowChangeToken {
			pkghttp.WriteJSON(w, http.StatusForbidden, map[string]any{
				"error":                  "password_change_required",
				"message":                models.ErrPasswordRotationRequired.Error(),
				"requiresPasswordChange": true,
			})
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, &Principal{
			Identity:  identity,
			Claims:    claims,
			Token:     token,
			ViaCookie: viaCookie,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole must run after RequireSession
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			if p.Identity.Role != role {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal returns the authenticated caller or nil
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// WithPrincipal stores a principal in ctx. Used by tests and internal callers.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func extractToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1]), false
		}
		return "", false
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

// ExtractToken exposes the token lookup used by the middleware
func ExtractToken(r *http.Request) string {
	token, _ := extractToken(r)
	return token
}
