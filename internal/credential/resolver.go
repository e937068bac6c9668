package credential

import (
	"context"
	"fmt"

	"github.com/tradecore/tradecore/internal/domain"
)

// Resolver implements executor.CredentialResolver: it looks up an
// ExchangeCredential by id (or the owner's active one for the exchange when
// no id is given) and decrypts it for the duration of a single call.
type Resolver struct {
	store  domain.CredentialStore
	cipher domain.CredentialCipher
}

// NewResolver creates a Resolver.
func NewResolver(store domain.CredentialStore, cipher domain.CredentialCipher) *Resolver {
	return &Resolver{store: store, cipher: cipher}
}

// Resolve looks up and decrypts the credential for (ownerID, exchange).
// When credentialID is non-empty it is looked up directly; otherwise the
// owner's active, non-testnet credential for the exchange is used.
func (r *Resolver) Resolve(ctx context.Context, ownerID, exchange, credentialID string) (domain.DecryptedCredential, error) {
	var enc domain.ExchangeCredential
	var err error
	if credentialID != "" {
		enc, err = r.store.GetByID(ctx, credentialID)
	} else {
		enc, err = r.store.GetActive(ctx, ownerID, exchange, false)
	}
	if err != nil {
		return domain.DecryptedCredential{}, fmt.Errorf("credential: resolve %s/%s: %w", ownerID, exchange, err)
	}

	key, err := r.cipher.Decrypt(enc.EncKey)
	if err != nil {
		return domain.DecryptedCredential{}, fmt.Errorf("credential: decrypt key: %w", err)
	}
	secret, err := r.cipher.Decrypt(enc.EncSecret)
	if err != nil {
		return domain.DecryptedCredential{}, fmt.Errorf("credential: decrypt secret: %w", err)
	}
	var passphrase string
	if len(enc.EncPass) > 0 {
		passphrase, err = r.cipher.Decrypt(enc.EncPass)
		if err != nil {
			return domain.DecryptedCredential{}, fmt.Errorf("credential: decrypt passphrase: %w", err)
		}
	}

	return domain.DecryptedCredential{
		ID:         enc.ID,
		Exchange:   enc.Exchange,
		Testnet:    enc.Testnet,
		Key:        key,
		Secret:     secret,
		Passphrase: passphrase,
	}, nil
}
