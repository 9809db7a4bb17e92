// Package pii encrypts personal data fields at rest with AES-256-GCM.
//
// Every call to Encrypt draws a new random IV, so encrypting the same
// plaintext twice yields different envelopes. Decrypt verifies the GCM tag
// and never returns plaintext for a tampered envelope or a wrong key.
package pii

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/portalguard/internal/util"
)

var (
	// ErrInvalidKey is returned when the configured key is not exactly 32 bytes.
	ErrInvalidKey = errors.New("pii: encryption key must be 32 bytes (64 hex characters)")
	// ErrMalformedEnvelope is returned when an envelope cannot be parsed.
	ErrMalformedEnvelope = errors.New("pii: malformed envelope")
	// ErrDecrypt is returned when authentication of an envelope fails.
	ErrDecrypt = errors.New("pii: decryption failed")
)

// Cipher seals and opens PII envelopes. The key lives in a memguard
// Enclave and is only unsealed for the duration of a single operation.
// A Cipher is safe for concurrent use.
type Cipher struct {
	key *memguard.Enclave
}

// New returns a Cipher for the given 32-byte key. The caller's slice is not
// modified.
func New(key []byte) (*Cipher, error) {
	if len(key) != util.AESKeySize {
		return nil, ErrInvalidKey
	}
	// NewEnclave wipes its input, so hand it a copy.
	return &Cipher{key: memguard.NewEnclave(util.CopyBytes(key))}, nil
}

// NewFromHex returns a Cipher for a key given as 64 hex characters.
func NewFromHex(hexKey string) (*Cipher, error) {
	key, err := util.HexDecodeExact(hexKey, util.AESKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	defer util.WipeBytes(key)
	return New(key)
}

// Encrypt seals plaintext and returns the encoded envelope.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	buf, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("pii: opening key enclave: %w", err)
	}
	defer buf.Destroy()

	iv, ct, tag, err := util.SealAESGCM(plaintext, buf.Bytes(), nil)
	if err != nil {
		return "", fmt.Errorf("pii: encrypting: %w", err)
	}
	return Envelope{IV: iv, Tag: tag, Ciphertext: ct}.String(), nil
}

// Decrypt parses and opens an encoded envelope.
func (c *Cipher) Decrypt(envelope string) ([]byte, error) {
	env, err := ParseEnvelope(envelope)
	if err != nil {
		return nil, err
	}

	buf, err := c.key.Open()
	if err != nil {
		return nil, fmt.Errorf("pii: opening key enclave: %w", err)
	}
	defer buf.Destroy()

	plaintext, err := util.OpenAESGCM(env.IV, env.Ciphertext, env.Tag, buf.Bytes(), nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptString is Encrypt for string fields.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt for string fields.
func (c *Cipher) DecryptString(envelope string) (string, error) {
	b, err := c.Decrypt(envelope)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
