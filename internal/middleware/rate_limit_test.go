package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3})(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/manager/login", nil)
		req.RemoteAddr = "192.168.1.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/manager/login", nil)
	req.RemoteAddr = "192.168.1.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")

	// other clients keep their own budget
	req = httptest.NewRequest(http.MethodPost, "/api/v1/manager/login", nil)
	req.RemoteAddr = "192.168.1.2:5000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitByIdentity_KeysOnPrincipal(t *testing.T) {
	handler := RateLimitByIdentity(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	send := func(identityID, remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/admin/settings/2fa/verify", nil)
		req.RemoteAddr = remote
		if identityID != "" {
			req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{
				Identity: &models.Identity{ID: identityID},
			}))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// same identity from two addresses shares one budget
	assert.Equal(t, http.StatusOK, send("id-1", "10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, send("id-1", "10.0.0.2:1"))
	assert.Equal(t, http.StatusTooManyRequests, send("id-1", "10.0.0.3:1"))

	assert.Equal(t, http.StatusOK, send("id-2", "10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, send("", "10.0.0.9:1"))
}
