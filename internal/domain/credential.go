package domain

import "time"

// ExchangeCredential is an owner's API credential for a specific exchange.
// The EncKey/EncSecret/EncPass fields hold ciphertext at rest. They are
// decrypted by credential.Resolver on the OrderExecutor's path, outside the
// ExchangeAdapter implementations, which receive a DecryptedCredential.
type ExchangeCredential struct {
	ID         string
	OwnerID    string
	Exchange   string
	Testnet    bool
	EncKey     []byte
	EncSecret  []byte
	EncPass    []byte
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DecryptedCredential is the plaintext form handed to an ExchangeAdapter for
// the duration of a single call. It must never be logged or persisted.
type DecryptedCredential struct {
	ID         string
	Exchange   string
	Testnet    bool
	Key        string
	Secret     string
	Passphrase string
}

// CredentialCipher encrypts and decrypts ExchangeCredential secret material.
// The reference implementation wraps golang.org/x/crypto's AEAD primitives.
type CredentialCipher interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}
