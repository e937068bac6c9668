package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradecore/tradecore/internal/domain"
)

// StrategyInstanceStore implements domain.StrategyInstanceStore using
// PostgreSQL's strategy_instances table.
type StrategyInstanceStore struct {
	pool *pgxpool.Pool
}

// NewStrategyInstanceStore creates a new StrategyInstanceStore backed by
// the given connection pool.
func NewStrategyInstanceStore(pool *pgxpool.Pool) *StrategyInstanceStore {
	return &StrategyInstanceStore{pool: pool}
}

const strategyInstanceSelectCols = `id, owner_id, exchange_config_id, exchange, symbol, kind, params,
	eval_interval_ms, desired_active, status, health_message, last_evaluated_at, consecutive_errors,
	created_at, updated_at`

func scanStrategyInstanceRow(scanner interface{ Scan(dest ...any) error }) (domain.StrategyInstance, error) {
	var inst domain.StrategyInstance
	var kind, status string
	var paramsJSON []byte
	var evalIntervalMs int64
	var lastEvaluatedAt *time.Time

	err := scanner.Scan(
		&inst.ID, &inst.OwnerID, &inst.ExchangeConfigID, &inst.Exchange, &inst.Symbol, &kind, &paramsJSON,
		&evalIntervalMs, &inst.DesiredActive, &status, &inst.HealthMessage, &lastEvaluatedAt, &inst.ConsecutiveErrors,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return domain.StrategyInstance{}, err
	}

	inst.EvalInterval = time.Duration(evalIntervalMs) * time.Millisecond
	inst.Status = domain.EngineStatus(status)
	if lastEvaluatedAt != nil {
		inst.LastEvaluatedAt = *lastEvaluatedAt
	}

	var params domain.StrategyParams
	params.Kind = domain.StrategyKind(kind)
	switch params.Kind {
	case domain.StrategyMeanReversion:
		var p domain.MeanReversionParams
		if err := json.Unmarshal(paramsJSON, &p); err != nil {
			return domain.StrategyInstance{}, fmt.Errorf("unmarshal mean_reversion params: %w", err)
		}
		params.MeanReversion = &p
	case domain.StrategyMomentum:
		var p domain.MomentumParams
		if err := json.Unmarshal(paramsJSON, &p); err != nil {
			return domain.StrategyInstance{}, fmt.Errorf("unmarshal momentum params: %w", err)
		}
		params.Momentum = &p
	}
	inst.Params = params

	return inst, nil
}

func marshalStrategyParams(p domain.StrategyParams) ([]byte, error) {
	switch p.Kind {
	case domain.StrategyMeanReversion:
		return json.Marshal(p.MeanReversion)
	case domain.StrategyMomentum:
		return json.Marshal(p.Momentum)
	default:
		return nil, fmt.Errorf("postgres: unrecognized strategy kind %q", p.Kind)
	}
}

// Upsert inserts or updates a StrategyInstance row.
func (s *StrategyInstanceStore) Upsert(ctx context.Context, inst domain.StrategyInstance) error {
	paramsJSON, err := marshalStrategyParams(inst.Params)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy instance %s: %w", inst.ID, err)
	}

	const query = `
		INSERT INTO strategy_instances (
			id, owner_id, exchange_config_id, exchange, symbol, kind, params,
			eval_interval_ms, desired_active, status, health_message, last_evaluated_at, consecutive_errors,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			exchange_config_id = EXCLUDED.exchange_config_id,
			exchange = EXCLUDED.exchange,
			symbol = EXCLUDED.symbol,
			kind = EXCLUDED.kind,
			params = EXCLUDED.params,
			eval_interval_ms = EXCLUDED.eval_interval_ms,
			desired_active = EXCLUDED.desired_active,
			updated_at = NOW()`

	var lastEvaluatedAt *time.Time
	if !inst.LastEvaluatedAt.IsZero() {
		lastEvaluatedAt = &inst.LastEvaluatedAt
	}

	err = withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, query,
			inst.ID, inst.OwnerID, inst.ExchangeConfigID, inst.Exchange, inst.Symbol, string(inst.Params.Kind), paramsJSON,
			inst.EvalInterval.Milliseconds(), inst.DesiredActive, string(inst.Status), inst.HealthMessage,
			lastEvaluatedAt, inst.ConsecutiveErrors,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy instance %s: %w", inst.ID, err)
	}
	return nil
}

// GetByID looks up a StrategyInstance by its id.
func (s *StrategyInstanceStore) GetByID(ctx context.Context, id string) (domain.StrategyInstance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+strategyInstanceSelectCols+` FROM strategy_instances WHERE id = $1`, id)
	inst, err := scanStrategyInstanceRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyInstance{}, domain.ErrNotFound
		}
		return domain.StrategyInstance{}, fmt.Errorf("postgres: get strategy instance %s: %w", id, err)
	}
	return inst, nil
}

// ListDesiredOrActive returns every instance that is either marked
// desired-active by its owner or currently running, so the management loop
// can reconcile both "start this" and "stop this" transitions in one scan.
func (s *StrategyInstanceStore) ListDesiredOrActive(ctx context.Context) ([]domain.StrategyInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strategyInstanceSelectCols+` FROM strategy_instances
		 WHERE desired_active OR status IN ('pending_start', 'running', 'paused')
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list desired/active strategy instances: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyInstance
	for rows.Next() {
		inst, err := scanStrategyInstanceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpdateStatus updates an instance's lifecycle fields, touched exclusively
// by the StrategyEngine while it owns the instance.
func (s *StrategyInstanceStore) UpdateStatus(ctx context.Context, id string, status domain.EngineStatus, healthMessage string, consecutiveErrors int) error {
	var rowsAffected int64
	err := withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE strategy_instances SET status = $1, health_message = $2, consecutive_errors = $3,
			 last_evaluated_at = NOW(), updated_at = NOW() WHERE id = $4`,
			string(status), healthMessage, consecutiveErrors, id)
		if err != nil {
			return err
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: update strategy instance status %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClearDesiredActive flips an instance's owner-controlled desired_active
// flag off, used when MAX_CONSECUTIVE_ERRORS forces a permanent stop.
func (s *StrategyInstanceStore) ClearDesiredActive(ctx context.Context, id string) error {
	var rowsAffected int64
	err := withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE strategy_instances SET desired_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return err
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: clear desired_active %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.StrategyInstanceStore = (*StrategyInstanceStore)(nil)
