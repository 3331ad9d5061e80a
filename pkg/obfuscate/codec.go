// Package obfuscate implements the reversible XOR + base64 field encoding used
// by the admin console for credentials in transit. It is NOT encryption.
package obfuscate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultKey is the key shared with the deployed console.
const DefaultKey = "SecureOnlyThingsAreDone"

var (
	ErrEmptyKey       = errors.New("obfuscation key cannot be empty")
	ErrNonASCIIKey    = errors.New("obfuscation key must be ASCII")
	ErrMalformedToken = errors.New("malformed obfuscated value")
)

// Codec XORs each code point of a value with the key code point at the same
// index modulo the key length. Keys are restricted to ASCII so the XOR of a
// valid code point never lands in the surrogate range or past utf8.MaxRune.
type Codec struct {
	key []rune
}

func NewCodec(key string) (*Codec, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	for i := 0; i < len(key); i++ {
		if key[i] >= utf8.RuneSelf {
			return nil, ErrNonASCIIKey
		}
	}
	return &Codec{key: []rune(key)}, nil
}

// MustNewCodec panics on an invalid key. Intended for constants and tests.
func MustNewCodec(key string) *Codec {
	c, err := NewCodec(key)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Codec) Encode(plaintext string) string {
	var sb strings.Builder
	sb.Grow(len(plaintext))
	i := 0
	for _, r := range plaintext {
		sb.WriteRune(c.xor(r, i))
		i++
	}
	return base64.StdEncoding.EncodeToString([]byte(sb.String()))
}

func (c *Codec) Decode(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrMalformedToken)
	}

	var sb strings.Builder
	sb.Grow(len(raw))
	i := 0
	for _, r := range string(raw) {
		sb.WriteRune(c.xor(r, i))
		i++
	}
	return sb.String(), nil
}

func (c *Codec) xor(r rune, i int) rune {
	return r ^ c.key[i%len(c.key)]
}
