package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	TOTPPeriod     = 30
	TOTPSkew       = 1
	TOTPDigits     = 6
	SecretSize     = 20 // 160-bit generated secrets
	MinSecretBytes = 10 // 80-bit floor for imported secrets
	qrCodeSize     = 256
)

var validateOpts = totp.ValidateOpts{
	Period:    TOTPPeriod,
	Skew:      TOTPSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPKey is a freshly provisioned secret. Secret is Base32 without padding.
type TOTPKey struct {
	Secret string
	URL    string
}

// TOTPEngine implements RFC 6238 (SHA1, 30s, 6 digits, one step of skew)
// and seals secrets with AES-256-GCM for storage.
type TOTPEngine struct {
	encryptionKey []byte
	issuer        string
}

// NewTOTPEngine requires a 32-byte AES-256 key
func NewTOTPEngine(encryptionKey []byte, issuer string) (*TOTPEngine, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}
	return &TOTPEngine{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// NewSecret generates a random 160-bit secret
func (e *TOTPEngine) NewSecret(accountName string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		SecretSize:  SecretSize,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return &TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

// ImportSecret validates a caller-supplied secret and builds its provisioning URI
func (e *TOTPEngine) ImportSecret(custom, accountName string) (*TOTPKey, error) {
	_, raw, err := decodeSecret(custom)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		Secret:      raw,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build TOTP key: %w", err)
	}
	return &TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

// NormalizeSecret upper-cases a Base32 secret, strips separators and padding,
// and rejects anything that does not decode to at least 80 bits.
func NormalizeSecret(custom string) (string, error) {
	s, _, err := decodeSecret(custom)
	return s, err
}

// decodeSecret returns the normalized Base32 text along with the bytes it decodes to
func decodeSecret(custom string) (string, []byte, error) {
	s := strings.ToUpper(custom)
	s = strings.NewReplacer(" ", "", "-", "", "=", "", "\t", "").Replace(s)
	if s == "" {
		return "", nil, models.ErrSecretFormatInvalid
	}

	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil || len(raw) < MinSecretBytes {
		return "", nil, models.ErrSecretFormatInvalid
	}
	return s, raw, nil
}

// Generate returns the code for the time step containing t
func (e *TOTPEngine) Generate(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t, validateOpts)
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}

// Verify accepts a code for the step containing t or one step either side
func (e *TOTPEngine) Verify(secret, code string, t time.Time) bool {
	_, ok := e.MatchStep(secret, code, t)
	return ok
}

// MatchStep is Verify that also reports which time step matched, so callers
// can refuse a step that was already used.
func (e *TOTPEngine) MatchStep(secret, code string, t time.Time) (int64, bool) {
	if len(code) != TOTPDigits {
		return 0, false
	}

	current := t.Unix() / TOTPPeriod
	var matched int64
	ok := false
	for offset := int64(-TOTPSkew); offset <= TOTPSkew; offset++ {
		step := current + offset
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*TOTPPeriod, 0), validateOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !ok {
			matched = step
			ok = true
		}
	}
	return matched, ok
}

// QRCodeDataURL renders a provisioning URI as a PNG data URL
func QRCodeDataURL(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// EncryptSecret seals a Base32 secret with AES-256-GCM
func (e *TOTPEngine) EncryptSecret(secret string) (*models.EncryptedSecret, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &models.EncryptedSecret{
		Ciphertext: gcm.Seal(nil, nonce, []byte(secret), nil),
		Nonce:      nonce,
	}, nil
}

// DecryptSecret opens a sealed secret
func (e *TOTPEngine) DecryptSecret(sealed *models.EncryptedSecret) (string, error) {
	if sealed == nil {
		return "", fmt.Errorf("no secret stored")
	}
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}
	if len(sealed.Nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length %d", len(sealed.Nonce))
	}

	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (e *TOTPEngine) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
