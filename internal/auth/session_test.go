package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
	err     error
}

func newFakeRevocations() *fakeRevocations {
	return &fakeRevocations{revoked: map[string]bool{}}
}

func (f *fakeRevocations) RevokeSession(ctx context.Context, jti, identityID, tokenType string, expiresAt time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeRevocations) IsSessionRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[jti], nil
}

func newTestIssuer(store SessionRevocationStore) *SessionIssuer {
	return NewSessionIssuer(SessionIssuerConfig{
		Secret:            "test-session-secret-32-bytes-long",
		SessionExpiry:     time.Hour,
		ChangeTokenExpiry: 10 * time.Minute,
		FailClosed:        true,
	}, store)
}

var testIdentity = &models.Identity{
	ID:           "8f14e45f-ceea-4e67-a6a7-7f1a3b2c9d10",
	Email:        "admin@example.com",
	PasswordHash: "$2a$04$hash",
	Role:         models.RoleAdmin,
}

func TestSessionIssuer_IssueAndValidate(t *testing.T) {
	issuer := newTestIssuer(newFakeRevocations())

	session, err := issuer.Issue(testIdentity)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, issuer.CSRFToken(session.ID), session.CSRFToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)

	claims, err := issuer.Validate(context.Background(), session.Token, models.TokenTypeSession)
	require.NoError(t, err)
	assert.Equal(t, testIdentity.ID, claims.Subject)
	assert.Equal(t, session.ID, claims.ID)
}

func TestSessionIssuer_TokenCarriesNoSensitiveFields(t *testing.T) {
	issuer := newTestIssuer(nil)
	session, err := issuer.Issue(testIdentity)
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(session.Token, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)

	for key := range claims {
		assert.Contains(t, []string{"type", "jti", "sub", "exp", "iat", "nbf"}, key)
	}
	assert.NotContains(t, session.Token, "admin@example.com")
}

func TestSessionIssuer_RejectsWrongType(t *testing.T) {
	issuer := newTestIssuer(nil)

	changeToken, err := issuer.IssuePasswordChange(testIdentity)
	require.NoError(t, err)

	_, err = issuer.Parse(changeToken, models.TokenTypeSession)
	assert.ErrorIs(t, err, models.ErrSessionInvalid)

	claims, err := issuer.Parse(changeToken, models.TokenTypePasswordChange)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypePasswordChange, claims.Type)
}

func TestSessionIssuer_RejectsExpired(t *testing.T) {
	issuer := newTestIssuer(nil)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	session, err := issuer.Issue(testIdentity)
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Parse(session.Token, models.TokenTypeSession)
	assert.ErrorIs(t, err, models.ErrSessionInvalid)
}

func TestSessionIssuer_RejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer(nil)
	other := NewSessionIssuer(SessionIssuerConfig{Secret: "another-secret-entirely-different", SessionExpiry: time.Hour}, nil)

	session, err := other.Issue(testIdentity)
	require.NoError(t, err)

	_, err = issuer.Parse(session.Token, models.TokenTypeSession)
	assert.ErrorIs(t, err, models.ErrSessionInvalid)

	_, err = issuer.Parse("not.a.jwt", models.TokenTypeSession)
	assert.ErrorIs(t, err, models.ErrSessionInvalid)
}

func TestSessionIssuer_RejectsNoneAlgorithm(t *testing.T) {
	issuer := newTestIssuer(nil)
	claims := &models.SessionClaims{
		Type: models.TokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti",
			Subject:   testIdentity.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Parse(token, models.TokenTypeSession)
	assert.ErrorIs(t, err, models.ErrSessionInvalid)
}

func TestSessionIssuer_Revoke(t *testing.T) {
	store := newFakeRevocations()
	issuer := newTestIssuer(store)

	session, err := issuer.Issue(testIdentity)
	require.NoError(t, err)
	claims, err := issuer.Validate(context.Background(), session.Token, models.TokenTypeSession)
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(context.Background(), claims, "logout"))

	_, err = issuer.Validate(context.Background(), session.Token, models.TokenTypeSession)
	assert.ErrorIs(t, err, models.ErrSessionRevoked)
}

func TestSessionIssuer_RevocationStoreDown(t *testing.T) {
	store := newFakeRevocations()
	store.err = errors.New("connection refused")

	closed := newTestIssuer(store)
	session, err := closed.Issue(testIdentity)
	require.NoError(t, err)

	_, err = closed.Validate(context.Background(), session.Token, models.TokenTypeSession)
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrSessionInvalid))

	open := NewSessionIssuer(SessionIssuerConfig{Secret: "test-session-secret-32-bytes-long", SessionExpiry: time.Hour}, store)
	_, err = open.Validate(context.Background(), session.Token, models.TokenTypeSession)
	assert.NoError(t, err)
}

func TestSessionIssuer_CSRFToken(t *testing.T) {
	issuer := newTestIssuer(nil)

	token := issuer.CSRFToken("session-a")
	assert.Len(t, token, 64)
	assert.True(t, issuer.ValidCSRFToken("session-a", token))
	assert.False(t, issuer.ValidCSRFToken("session-b", token))
	assert.False(t, issuer.ValidCSRFToken("session-a", ""))
	assert.False(t, issuer.ValidCSRFToken("session-a", strings.ToUpper(token)))
}
