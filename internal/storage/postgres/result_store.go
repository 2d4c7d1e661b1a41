package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

// ResultStore implements storage.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *Pool
}

// NewResultStore creates a new ResultStore.
func NewResultStore(pool *Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ResultStore = (*ResultStore)(nil)

// Insert adds a new result. Returns ErrDuplicateKey if result_id exists.
func (s *ResultStore) Insert(ctx context.Context, r *domain.EvaluationResult) error {
	if r == nil || r.ResultID == "" || r.TradeID == 0 {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("marshal result payload: %w", err)
	}

	query := `
		INSERT INTO evaluation_results (result_id, trade_id, job_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.pool.Exec(ctx, query, r.ResultID, r.TradeID, r.JobID, payload, r.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetLatestByTrade retrieves the most recent result for a trade.
func (s *ResultStore) GetLatestByTrade(ctx context.Context, tradeID int64) (*domain.EvaluationResult, error) {
	query := `
		SELECT result_id, trade_id, job_id, payload, created_at
		FROM evaluation_results
		WHERE trade_id = $1
		ORDER BY created_at DESC, result_id DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, tradeID)
	r, err := scanResult(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest result: %w", err)
	}
	return r, nil
}

// ListByTrade retrieves all results for a trade, newest first.
func (s *ResultStore) ListByTrade(ctx context.Context, tradeID int64) ([]*domain.EvaluationResult, error) {
	query := `
		SELECT result_id, trade_id, job_id, payload, created_at
		FROM evaluation_results
		WHERE trade_id = $1
		ORDER BY created_at DESC, result_id DESC
	`

	rows, err := s.pool.Query(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("list results by trade: %w", err)
	}
	defer rows.Close()

	var results []*domain.EvaluationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListRecent retrieves results created at or after sinceMs, newest first,
// capped at limit.
func (s *ResultStore) ListRecent(ctx context.Context, sinceMs int64, limit int) ([]*domain.EvaluationResult, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT result_id, trade_id, job_id, payload, created_at
		FROM evaluation_results
		WHERE created_at >= $1
		ORDER BY created_at DESC, result_id DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, sinceMs, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent results: %w", err)
	}
	defer rows.Close()

	var results []*domain.EvaluationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanResult(row pgx.Row) (*domain.EvaluationResult, error) {
	var r domain.EvaluationResult
	var payload []byte
	if err := row.Scan(&r.ResultID, &r.TradeID, &r.JobID, &payload, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal result payload: %w", err)
	}
	return &r, nil
}
