package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 12
	MaxPasswordBytes  = 72 // bcrypt input limit

	// PasswordSymbols is the set of characters that satisfy the symbol rule
	PasswordSymbols = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`
)

// PasswordPolicyError lists every rule a candidate password violated
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Violations, "; ")
}

func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePassword checks a new password against the rotation policy.
// current is the password being replaced; the new one must differ from it.
func ValidatePassword(password, current string) error {
	violations := make([]string, 0)

	if len([]rune(password)) < MinPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordBytes {
		violations = append(violations, fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(PasswordSymbols, r):
			hasSymbol = true
		}
	}

	if !hasUpper {
		violations = append(violations, "must contain at least one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain at least one digit")
	}
	if !hasSymbol {
		violations = append(violations, "must contain at least one symbol from "+PasswordSymbols)
	}
	if current != "" && password == current {
		violations = append(violations, "must differ from the current password")
	}

	if len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}
	return nil
}

const (
	tempUpper  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	tempLower  = "abcdefghijkmnopqrstuvwxyz"
	tempDigits = "23456789"
	tempSymbol = "!@#$%^&*-_=+?"
)

// GenerateTemporaryPassword returns a random password that satisfies ValidatePassword
func GenerateTemporaryPassword() (string, error) {
	const length = 16
	all := tempUpper + tempLower + tempDigits + tempSymbol

	out := make([]byte, 0, length)
	for _, set := range []string{tempUpper, tempLower, tempDigits, tempSymbol} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// shuffle so the required classes are not always in front
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to shuffle password: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

// GenerateSecretCode returns a random alphanumeric login secret code
func GenerateSecretCode() (string, error) {
	const length = 12
	set := tempUpper + tempDigits
	out := make([]byte, length)
	for i := range out {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random character: %w", err)
	}
	return set[n.Int64()], nil
}
