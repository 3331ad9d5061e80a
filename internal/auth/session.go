package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTimePrecision is the resolution of iat, nbf and exp in issued tokens.
// Tokens minted before a password change are told apart from those minted
// after it at this resolution.
const TokenTimePrecision = time.Millisecond

func init() {
	jwt.TimePrecision = TokenTimePrecision
}

// SessionRevocationStore persists revoked token IDs until they expire
type SessionRevocationStore interface {
	RevokeSession(ctx context.Context, jti, identityID, tokenType string, expiresAt time.Time, reason string) error
	IsSessionRevoked(ctx context.Context, jti string) (bool, error)
}

// SessionIssuer signs and validates HS256 session and password-change tokens.
// Tokens identify the identity and nothing else.
type SessionIssuer struct {
	secret            []byte
	sessionExpiry     time.Duration
	changeTokenExpiry time.Duration
	revocations       SessionRevocationStore
	failClosed        bool
	now               func() time.Time
}

type SessionIssuerConfig struct {
	Secret            string
	SessionExpiry     time.Duration
	ChangeTokenExpiry time.Duration
	// FailClosed rejects tokens when the revocation store cannot be reached
	FailClosed bool
}

func NewSessionIssuer(cfg SessionIssuerConfig, revocations SessionRevocationStore) *SessionIssuer {
	return &SessionIssuer{
		secret:            []byte(cfg.Secret),
		sessionExpiry:     cfg.SessionExpiry,
		changeTokenExpiry: cfg.ChangeTokenExpiry,
		revocations:       revocations,
		failClosed:        cfg.FailClosed,
		now:               time.Now,
	}
}

// Issue creates a session for an identity that completed every login step
func (s *SessionIssuer) Issue(identity *models.Identity) (*models.Session, error) {
	token, claims, err := s.sign(identity.ID, models.TokenTypeSession, s.sessionExpiry)
	if err != nil {
		return nil, err
	}
	return &models.Session{
		Token:     token,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		CSRFToken: s.CSRFToken(claims.ID),
	}, nil
}

// IssuePasswordChange creates a short-lived token that only authorises a password change
func (s *SessionIssuer) IssuePasswordChange(identity *models.Identity) (string, error) {
	token, _, err := s.sign(identity.ID, models.TokenTypePasswordChange, s.changeTokenExpiry)
	return token, err
}

func (s *SessionIssuer) sign(identityID, tokenType string, ttl time.Duration) (string, *models.SessionClaims, error) {
	now := s.now()
	claims := &models.SessionClaims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   identityID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return token, claims, nil
}

// Parse checks signature, expiry and type without consulting the revocation store
func (s *SessionIssuer) Parse(tokenString string, allowedTypes ...string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, models.ErrSessionInvalid
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, models.ErrSessionInvalid
	}

	for _, t := range allowedTypes {
		if claims.Type == t {
			return claims, nil
		}
	}
	return nil, models.ErrSessionInvalid
}

// Validate is Parse plus a revocation check
func (s *SessionIssuer) Validate(ctx context.Context, tokenString string, allowedTypes ...string) (*models.SessionClaims, error) {
	claims, err := s.Parse(tokenString, allowedTypes...)
	if err != nil {
		return nil, err
	}
	if s.revocations == nil {
		return claims, nil
	}

	revoked, err := s.revocations.IsSessionRevoked(ctx, claims.ID)
	if err != nil {
		if s.failClosed {
			return nil, fmt.Errorf("failed to check session revocation: %w", err)
		}
		return claims, nil
	}
	if revoked {
		return nil, models.ErrSessionRevoked
	}
	return claims, nil
}

// Revoke blacklists a token until its natural expiry
func (s *SessionIssuer) Revoke(ctx context.Context, claims *models.SessionClaims, reason string) error {
	if s.revocations == nil {
		return errors.New("no revocation store configured")
	}
	expiresAt := s.now().Add(s.sessionExpiry)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return s.revocations.RevokeSession(ctx, claims.ID, claims.Subject, claims.Type, expiresAt, reason)
}

// CSRFToken derives the double-submit token bound to a session ID
func (s *SessionIssuer) CSRFToken(sessionID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("csrf:" + sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidCSRFToken compares in constant time
func (s *SessionIssuer) ValidCSRFToken(sessionID, token string) bool {
	if token == "" {
		return false
	}
	return hmac.Equal([]byte(s.CSRFToken(sessionID)), []byte(token))
}
