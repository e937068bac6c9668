package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// CredentialStore implements domain.CredentialStore using PostgreSQL's
// exchange_credentials table. Returned values always carry ciphertext;
// decryption happens in credential.Resolver, not in this store or in an
// ExchangeAdapter.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a new CredentialStore backed by the given
// connection pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

const credentialSelectCols = `id, owner_id, exchange, testnet, enc_key, enc_secret, enc_pass, active, created_at, updated_at`

func scanCredentialRow(scanner interface{ Scan(dest ...any) error }) (domain.ExchangeCredential, error) {
	var c domain.ExchangeCredential
	err := scanner.Scan(&c.ID, &c.OwnerID, &c.Exchange, &c.Testnet, &c.EncKey, &c.EncSecret, &c.EncPass, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetByID looks up a credential by its id.
func (s *CredentialStore) GetByID(ctx context.Context, id string) (domain.ExchangeCredential, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+credentialSelectCols+` FROM exchange_credentials WHERE id = $1`, id)
	c, err := scanCredentialRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ExchangeCredential{}, domain.ErrNotFound
		}
		return domain.ExchangeCredential{}, fmt.Errorf("postgres: get credential %s: %w", id, err)
	}
	return c, nil
}

// GetActive returns the active credential for (ownerID, exchange, testnet).
func (s *CredentialStore) GetActive(ctx context.Context, ownerID, exchange string, testnet bool) (domain.ExchangeCredential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialSelectCols+` FROM exchange_credentials
		 WHERE owner_id = $1 AND exchange = $2 AND testnet = $3 AND active
		 ORDER BY updated_at DESC LIMIT 1`,
		ownerID, exchange, testnet)
	c, err := scanCredentialRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ExchangeCredential{}, domain.ErrNotFound
		}
		return domain.ExchangeCredential{}, fmt.Errorf("postgres: get active credential %s/%s: %w", ownerID, exchange, err)
	}
	return c, nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialStore)(nil)
