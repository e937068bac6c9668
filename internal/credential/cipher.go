// Package credential manages exchange API credentials at rest: symmetric
// encryption of secret material and resolution of the active credential for
// a given owner/exchange pair into the plaintext form an ExchangeAdapter
// needs for a single call.
package credential

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tradecore/tradecore/internal/domain"
)

// AEADCipher implements domain.CredentialCipher using ChaCha20-Poly1305
// with a 256-bit key. The key is provided once at startup (from the
// TRADECORE_CREDENTIAL_KEY env var, base64-decoded) and never touches
// storage.
type AEADCipher struct {
	aead cipher.AEAD
}

// NewAEADCipher creates an AEADCipher from a 32-byte key.
func NewAEADCipher(key []byte) (*AEADCipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("credential: init aead: %w", err)
	}
	return &AEADCipher{aead: aead}, nil
}

// Encrypt seals plaintext with a random nonce, prepended to the ciphertext.
func (c *AEADCipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("credential: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt reverses Encrypt, splitting the nonce off the front of
// ciphertext.
func (c *AEADCipher) Decrypt(ciphertext []byte) (string, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns {
		return "", fmt.Errorf("credential: ciphertext too short")
	}
	nonce, sealed := ciphertext[:ns], ciphertext[ns:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("credential: decrypt: %w", err)
	}
	return string(plaintext), nil
}

var _ domain.CredentialCipher = (*AEADCipher)(nil)
