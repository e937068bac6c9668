package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	storeRetries   = 3
	storeBaseDelay = 50 * time.Millisecond
)

// retryablePgStates are SQLSTATEs that indicate a transient condition
// (connection loss, serialization conflict, server overload) rather than a
// permanent defect in the query or data; only these are worth retrying.
var retryablePgStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
}

// isRetryableStoreErr reports whether err is worth retrying: a recognized
// transient Postgres error, or a non-PgError failure (pool checkout
// timeout, network error) other than context cancellation/deadline, which
// the caller's own ctx already governs.
func isRetryableStoreErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePgStates[pgErr.Code]
	}
	return true
}

// withRetry runs fn, retrying up to storeRetries additional times with
// exponential backoff when the error isRetryableStoreErr classifies as
// transient. It implements spec §5's "a store query that fails with a
// retryable error is retried up to 3 times before surfacing failure".
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := storeBaseDelay
	for attempt := 0; attempt <= storeRetries; attempt++ {
		if err = fn(); err == nil || !isRetryableStoreErr(err) {
			return err
		}
		if attempt == storeRetries {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
