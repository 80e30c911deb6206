package access

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	sealPrefix = "enc:"
	nonceSize  = 12
	keySize    = 32
	argonTime  = 3
	argonMem   = 64 * 1024
	argonPar   = 4
)

// sealSalt is fixed so one passphrase always yields the same key; the key is
// derived once per Sealer, not per value.
var sealSalt = []byte("untiscal/access-credential-seal/v1")

var ErrSeal = errors.New("access: sealed value cannot be opened")

// Sealer encrypts credential fields at rest with AES-256-GCM under an
// Argon2id-derived key. A nil *Sealer stores values in the clear.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns nil for an empty passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, nil
	}
	key := argon2.IDKey([]byte(passphrase), sealSalt, argonTime, argonMem, argonPar, keySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal returns "enc:" + base64(nonce | ciphertext).
func (s *Sealer) Seal(plain string) (string, error) {
	if s == nil || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the "enc:" prefix are returned as is so
// stores written before sealing was enabled keep working.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealPrefix) {
		return stored, nil
	}
	if s == nil {
		return "", fmt.Errorf("%w: no seal key configured", ErrSeal)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSeal, err)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: value too short", ErrSeal)
	}
	plain, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSeal, err)
	}
	return string(plain), nil
}

// sealCredential returns a copy of a with its secret fields sealed.
func (s *Sealer) sealCredential(a Access) (Access, error) {
	var err error
	switch c := a.Credential.(type) {
	case Password:
		c.Password, err = s.Seal(c.Password)
		a.Credential = c
	case Secret:
		c.Secret, err = s.Seal(c.Secret)
		a.Credential = c
	}
	return a, err
}

func (s *Sealer) openCredential(a Access) (Access, error) {
	var err error
	switch c := a.Credential.(type) {
	case Password:
		c.Password, err = s.Open(c.Password)
		a.Credential = c
	case Secret:
		c.Secret, err = s.Open(c.Secret)
		a.Credential = c
	}
	return a, err
}
