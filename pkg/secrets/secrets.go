// Package secrets implements the at-rest encryption envelope for session
// credentials: AES-256-GCM with a PBKDF2-derived key. Every envelope carries
// its own random salt and nonce; any decode or authentication failure is
// surfaced as corruption, never silently defaulted.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/relayforge/relayforge/pkg/domain"
)

const (
	saltLen    = 16
	nonceLen   = 12
	tagLen     = 16
	keyLen     = 32
	pbkdf2Iter = 100_000
)

// Cipher encrypts and decrypts credential envelopes with a fixed passphrase.
// It is stateless per invocation and safe for concurrent use.
type Cipher struct {
	passphrase []byte
}

// NewCipher returns a Cipher using the given passphrase.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("secrets: passphrase is required")
	}
	return &Cipher{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plaintext into a four-field envelope.
func (c *Cipher) Seal(plaintext string) (*domain.EncryptedSecret, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secrets: salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: nonce: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the auth tag to the ciphertext; the envelope keeps them
	// as separate fields.
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	enc := base64.StdEncoding
	return &domain.EncryptedSecret{
		Ciphertext: enc.EncodeToString(ct),
		IV:         enc.EncodeToString(nonce),
		AuthTag:    enc.EncodeToString(tag),
		Salt:       enc.EncodeToString(salt),
	}, nil
}

// Open decrypts an envelope. A missing field, bad base64 or failed
// authentication all map to domain.ErrCorruptedSecret.
func (c *Cipher) Open(s *domain.EncryptedSecret) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: nil envelope", domain.ErrCorruptedSecret)
	}
	fields := map[string]string{
		"ciphertext": s.Ciphertext,
		"iv":         s.IV,
		"authTag":    s.AuthTag,
		"salt":       s.Salt,
	}
	decoded := map[string][]byte{}
	for name, val := range fields {
		if val == "" {
			return "", fmt.Errorf("%w: missing %s", domain.ErrCorruptedSecret, name)
		}
		b, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return "", fmt.Errorf("%w: %s is not base64", domain.ErrCorruptedSecret, name)
		}
		decoded[name] = b
	}
	if len(decoded["iv"]) != nonceLen || len(decoded["authTag"]) != tagLen {
		return "", fmt.Errorf("%w: bad field length", domain.ErrCorruptedSecret)
	}

	gcm, err := c.aead(decoded["salt"])
	if err != nil {
		return "", err
	}

	sealed := append(decoded["ciphertext"], decoded["authTag"]...)
	plaintext, err := gcm.Open(nil, decoded["iv"], sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", domain.ErrCorruptedSecret)
	}
	return string(plaintext), nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.passphrase, salt, pbkdf2Iter, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm: %w", err)
	}
	return gcm, nil
}

// IsEncrypted reports whether a string parses as a serialized envelope:
// a JSON object containing exactly the four envelope fields.
func IsEncrypted(s string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return false
	}
	if len(m) != 4 {
		return false
	}
	for _, k := range []string{"ciphertext", "iv", "authTag", "salt"} {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}
