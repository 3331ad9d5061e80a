package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// CSRFValidator checks a double-submit token against a session ID
type CSRFValidator interface {
	ValidCSRFToken(sessionID, token string) bool
}

// CSRFProtection must run after the authenticator. Cookie-authenticated
// state-changing requests must echo the CSRF token bound to their session in
// the X-CSRF-Token header. Bearer requests and anonymous requests pass.
func CSRFProtection(validator CSRFValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			principal := auth.GetPrincipal(r.Context())
			if principal == nil || !principal.ViaCookie {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(auth.CSRFHeaderName)
			if !validator.ValidCSRFToken(principal.Claims.ID, token) {
				logger.Warn("CSRF token validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("user_id", principal.Identity.ID),
					slog.Bool("missing", token == ""))
				pkghttp.WriteError(w, http.StatusForbidden, "csrf_invalid", "CSRF token missing or invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
