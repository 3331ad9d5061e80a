package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeSession        = "session"
	TokenTypePasswordChange = "password_change"
)

// SessionClaims carry only the identity reference. The subject is the identity ID.
type SessionClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Session is an issued bearer token
type Session struct {
	Token     string
	ID        string // jti
	ExpiresAt time.Time
	CSRFToken string
}

// LoginState is the position of a login attempt in the authentication sequence
type LoginState string

const (
	LoginStateCredentials          LoginState = "CREDENTIALS"
	LoginStateTwoFactor            LoginState = "TWO_FACTOR"
	LoginStateForcedPasswordChange LoginState = "FORCED_PASSWORD_CHANGE"
	LoginStateAuthenticated        LoginState = "AUTHENTICATED"
)

// LoginAttempt is a single submission. Email and Password arrive obfuscated.
// It is never persisted or logged as-is.
type LoginAttempt struct {
	Email      string
	Password   string
	SecretCode string
	Code       string // TOTP or backup code, empty on the first step
	IPAddress  string
	UserAgent  string
}

// LoginResult is the outcome of a login submission that did not fail outright
type LoginResult struct {
	State       LoginState
	Identity    *Identity
	Session     *Session // set when State is AUTHENTICATED
	ChangeToken string   // set when State is FORCED_PASSWORD_CHANGE
}
