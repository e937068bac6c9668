package credential

import (
	"bytes"
	"context"
	"testing"

	"github.com/tradecore/tradecore/internal/domain"
)

type fakeCredentialStore struct {
	byID     map[string]domain.ExchangeCredential
	active   domain.ExchangeCredential
	activeOK bool
}

func (f *fakeCredentialStore) GetByID(_ context.Context, id string) (domain.ExchangeCredential, error) {
	c, ok := f.byID[id]
	if !ok {
		return domain.ExchangeCredential{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCredentialStore) GetActive(_ context.Context, ownerID, exchange string, testnet bool) (domain.ExchangeCredential, error) {
	if !f.activeOK {
		return domain.ExchangeCredential{}, domain.ErrNotFound
	}
	return f.active, nil
}

func mustCipher(t *testing.T) *AEADCipher {
	t.Helper()
	c, err := NewAEADCipher(bytes.Repeat([]byte{0x5}, 32))
	if err != nil {
		t.Fatalf("NewAEADCipher: %v", err)
	}
	return c
}

func TestResolver_ResolveByID(t *testing.T) {
	cipher := mustCipher(t)
	encKey, _ := cipher.Encrypt("api-key")
	encSecret, _ := cipher.Encrypt("api-secret")

	store := &fakeCredentialStore{byID: map[string]domain.ExchangeCredential{
		"cred-1": {ID: "cred-1", Exchange: "binance", EncKey: encKey, EncSecret: encSecret},
	}}
	r := NewResolver(store, cipher)

	got, err := r.Resolve(context.Background(), "owner-1", "binance", "cred-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Key != "api-key" || got.Secret != "api-secret" {
		t.Fatalf("Resolve() = %+v, want decrypted key/secret", got)
	}
}

func TestResolver_ResolveActiveWhenNoIDGiven(t *testing.T) {
	cipher := mustCipher(t)
	encKey, _ := cipher.Encrypt("active-key")
	encSecret, _ := cipher.Encrypt("active-secret")
	encPass, _ := cipher.Encrypt("active-pass")

	store := &fakeCredentialStore{
		activeOK: true,
		active: domain.ExchangeCredential{
			ID: "active-1", Exchange: "binance",
			EncKey: encKey, EncSecret: encSecret, EncPass: encPass,
		},
	}
	r := NewResolver(store, cipher)

	got, err := r.Resolve(context.Background(), "owner-1", "binance", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Key != "active-key" || got.Secret != "active-secret" || got.Passphrase != "active-pass" {
		t.Fatalf("Resolve() = %+v, want fully decrypted active credential", got)
	}
}

func TestResolver_PropagatesStoreNotFound(t *testing.T) {
	r := NewResolver(&fakeCredentialStore{}, mustCipher(t))
	if _, err := r.Resolve(context.Background(), "owner-1", "binance", "missing"); err == nil {
		t.Fatal("expected error when the store has no matching credential")
	}
}
