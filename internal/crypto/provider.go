// Package crypto implements the local sealing scheme used when no Red
// October server is available: scrypt key derivation and NaCl secretbox.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	// TokenPrefix marks the sealed token format version.
	TokenPrefix = "ro1:"

	KeySize   = 32
	NonceSize = 24
	SaltSize  = 16
)

// Params are the scrypt cost parameters.
type Params struct {
	N int // CPU/memory cost
	R int // block size
	P int // parallelization
}

// DefaultParams match interactive-login recommendations.
var DefaultParams = Params{N: 32768, R: 8, P: 1}

// Errors
var (
	ErrInvalidToken     = errors.New("invalid sealed token")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrEmptyPassword    = errors.New("empty password")
)

// SecretBoxProvider seals with secretbox under a key derived from the
// password, a random salt and the profile id.
type SecretBoxProvider struct {
	params Params
}

// NewProvider creates a provider. Zero params select DefaultParams.
func NewProvider(params Params) Provider {
	if params.N == 0 {
		params = DefaultParams
	}
	return &SecretBoxProvider{params: params}
}

// deriveKey binds the key to the profile so a token sealed for one profile
// never opens under another with the same password.
func (p *SecretBoxProvider) deriveKey(profileID, password string, salt []byte) (*[KeySize]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}

	material := make([]byte, 0, len(salt)+len(profileID))
	material = append(material, salt...)
	material = append(material, profileID...)

	raw, err := scrypt.Key([]byte(password), material, p.params.N, p.params.R, p.params.P, KeySize)
	if err != nil {
		return nil, fmt.Errorf("scrypt key derivation: %w", err)
	}

	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// Seal encrypts plaintext. The token is TokenPrefix followed by base64 of
// salt, nonce and box.
func (p *SecretBoxProvider) Seal(profileID, password string, plaintext []byte) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := p.deriveKey(profileID, password, salt)
	if err != nil {
		return "", err
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, SaltSize+NonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, key)

	return TokenPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a token produced by Seal.
func (p *SecretBoxProvider) Open(profileID, password, token string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(token), TokenPrefix)
	if !ok {
		return nil, ErrInvalidToken
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(raw) < SaltSize+NonceSize+secretbox.Overhead {
		return nil, ErrInvalidToken
	}

	salt := raw[:SaltSize]
	var nonce [NonceSize]byte
	copy(nonce[:], raw[SaltSize:SaltSize+NonceSize])

	key, err := p.deriveKey(profileID, password, salt)
	if err != nil {
		return nil, err
	}

	plaintext, ok := secretbox.Open(nil, raw[SaltSize+NonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Verifier returns the derived key for password under salt.
func (p *SecretBoxProvider) Verifier(profileID, password string, salt []byte) ([]byte, error) {
	key, err := p.deriveKey(profileID, password, salt)
	if err != nil {
		return nil, err
	}
	return key[:], nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
