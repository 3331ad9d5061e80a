package auth

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// base32 of the ASCII seed "12345678901234567890"
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func newTestEngine(t *testing.T) *TOTPEngine {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	e, err := NewTOTPEngine(key, "Warden")
	require.NoError(t, err)
	return e
}

// ============================================================================
// Constructor Tests (2 tests)
// ============================================================================

func TestTOTPEngine_New_ValidKey(t *testing.T) {
	e := newTestEngine(t)
	assert.NotNil(t, e)
}

func TestTOTPEngine_New_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		e, err := NewTOTPEngine(make([]byte, length), "Warden")
		assert.Error(t, err)
		assert.Nil(t, e)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

// ============================================================================
// Code Generation and Verification Tests (6 tests)
// ============================================================================

func TestTOTPEngine_Generate_RFC6238Vectors(t *testing.T) {
	e := newTestEngine(t)

	vectors := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	for _, v := range vectors {
		code, err := e.Generate(rfcSecret, time.Unix(v.unix, 0))
		require.NoError(t, err)
		assert.Equal(t, v.code, code, "t=%d", v.unix)
	}
}

func TestTOTPEngine_Verify_AcceptsOneStepSkew(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0)

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := e.Generate(rfcSecret, now.Add(offset))
		require.NoError(t, err)
		assert.True(t, e.Verify(rfcSecret, code, now), "offset %v should verify", offset)
	}
}

func TestTOTPEngine_Verify_RejectsTwoStepsAway(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0)

	for _, offset := range []time.Duration{-60 * time.Second, 60 * time.Second} {
		code, err := e.Generate(rfcSecret, now.Add(offset))
		require.NoError(t, err)
		assert.False(t, e.Verify(rfcSecret, code, now), "offset %v should not verify", offset)
	}
}

func TestTOTPEngine_Verify_RejectsMalformedCodes(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(59, 0)

	for _, code := range []string{"", "28708", "2870822", "abcdef", "94287082"} {
		assert.False(t, e.Verify(rfcSecret, code, now), "code %q", code)
	}
}

func TestTOTPEngine_MatchStep_ReportsStep(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0)
	current := now.Unix() / TOTPPeriod

	code, err := e.Generate(rfcSecret, now.Add(-30*time.Second))
	require.NoError(t, err)

	step, ok := e.MatchStep(rfcSecret, code, now)
	assert.True(t, ok)
	assert.Equal(t, current-1, step)
}

func TestTOTPEngine_NewSecret_VerifiesOwnCodes(t *testing.T) {
	e := newTestEngine(t)

	key, err := e.NewSecret("admin@example.com")
	require.NoError(t, err)
	assert.Len(t, key.Secret, 32) // 20 bytes of base32
	assert.True(t, strings.HasPrefix(key.URL, "otpauth://totp/"))
	assert.Contains(t, key.URL, "issuer=Warden")

	now := time.Now()
	code, err := e.Generate(key.Secret, now)
	require.NoError(t, err)
	assert.True(t, e.Verify(key.Secret, code, now))
}

// ============================================================================
// Custom Secret Tests (4 tests)
// ============================================================================

func TestNormalizeSecret(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "canonical", input: rfcSecret, want: rfcSecret},
		{name: "lower case with spaces", input: "gezd gnbv gy3t qojq", want: "GEZDGNBVGY3TQOJQ"},
		{name: "padding stripped", input: "GEZDGNBVGY3TQOJQ====", want: "GEZDGNBVGY3TQOJQ"},
		{name: "too short", input: "GEZDGNBV", wantErr: true},
		{name: "invalid alphabet", input: "GEZDGNBVGY3TQOJ1", wantErr: true},
		{name: "empty", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSecret(tt.input)
			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrSecretFormatInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTOTPEngine_ImportSecret(t *testing.T) {
	e := newTestEngine(t)

	key, err := e.ImportSecret("gezd-gnbv-gy3t-qojq-gezd-gnbv-gy3t-qojq", "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, rfcSecret, key.Secret)
	assert.Contains(t, key.URL, "secret="+rfcSecret)
}

func TestDecodeSecret_ReturnsSeedBytes(t *testing.T) {
	s, raw, err := decodeSecret("gezd gnbv gy3t qojq gezd gnbv gy3t qojq")
	require.NoError(t, err)
	assert.Equal(t, rfcSecret, s)
	assert.Equal(t, []byte("12345678901234567890"), raw)

	_, raw, err = decodeSecret("GEZDGNBV")
	assert.ErrorIs(t, err, models.ErrSecretFormatInvalid)
	assert.Nil(t, raw)
}

func TestTOTPEngine_ImportSecret_Invalid(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ImportSecret("not base32!", "admin@example.com")
	assert.ErrorIs(t, err, models.ErrSecretFormatInvalid)
}

// ============================================================================
// Encryption Tests (3 tests)
// ============================================================================

func TestTOTPEngine_EncryptDecrypt(t *testing.T) {
	e := newTestEngine(t)

	sealed, err := e.EncryptSecret(rfcSecret)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed.Ciphertext), rfcSecret)
	assert.Len(t, sealed.Nonce, 12)

	plain, err := e.DecryptSecret(sealed)
	require.NoError(t, err)
	assert.Equal(t, rfcSecret, plain)
}

func TestTOTPEngine_DecryptSecret_Tampered(t *testing.T) {
	e := newTestEngine(t)

	sealed, err := e.EncryptSecret(rfcSecret)
	require.NoError(t, err)
	sealed.Ciphertext[0] ^= 0xff

	_, err = e.DecryptSecret(sealed)
	assert.Error(t, err)
}

func TestTOTPEngine_DecryptSecret_WrongKey(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	sealed, err := a.EncryptSecret(rfcSecret)
	require.NoError(t, err)

	_, err = b.DecryptSecret(sealed)
	assert.Error(t, err)

	_, err = b.DecryptSecret(nil)
	assert.Error(t, err)
}

func TestQRCodeDataURL(t *testing.T) {
	url, err := QRCodeDataURL("otpauth://totp/Warden:admin@example.com?secret=" + rfcSecret)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}
