// Package envelope encrypts individual secret fields for storage at rest.
// Envelopes are "ivHex:cipherHex:tagHex" produced by AES-256-GCM.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"fleetbroker/pkg/faults"
)

const (
	ivSize  = 12
	tagSize = 16
)

// Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New derives the AES-256 key as SHA-256 of secret.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("envelope: empty secret")
	}
	h := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(h[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: gcm}, nil
}

func (c *Codec) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt fails with faults.ErrIntegrity on any malformed or tampered envelope.
func (c *Codec) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", integrity(fmt.Errorf("expected 3 envelope segments, got %d", len(parts)))
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", integrity(fmt.Errorf("bad iv"))
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", integrity(fmt.Errorf("bad ciphertext"))
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", integrity(fmt.Errorf("bad tag"))
	}
	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", integrity(err)
	}
	return string(plain), nil
}

func integrity(err error) error {
	return faults.New(faults.ErrIntegrity, "stored credential material failed its integrity check", err)
}
