package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL's event_log
// table, an append-only operator-visible log for things structured logs
// don't need to retain forever: archive runs, dedup collisions, dropped
// message counters.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Log appends a new event with the given name and detail map, stored as
// JSONB.
func (s *EventStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}

	const query = `INSERT INTO event_log (event, detail) VALUES ($1, $2)`
	err = withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, query, event, detailJSON)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: log event %s: %w", event, err)
	}
	return nil
}

// List returns event entries with pagination and optional time filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.EventEntry, error) {
	query := `SELECT id, event, detail, created_at FROM event_log WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var entries []domain.EventEntry
	for rows.Next() {
		var e domain.EventEntry
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
