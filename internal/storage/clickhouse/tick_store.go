package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

// TickStore implements storage.TickStore using ClickHouse.
type TickStore struct {
	conn *Conn
}

// NewTickStore creates a new TickStore.
func NewTickStore(conn *Conn) *TickStore {
	return &TickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

// InsertBulk adds multiple ticks. Fails entire batch on duplicate (coin_id, timestamp_ms).
func (s *TickStore) InsertBulk(ctx context.Context, ticks []*domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		coinID      int64
		timestampMs int64
	}
	seen := make(map[key]struct{})
	for _, t := range ticks {
		if t == nil || t.CoinID == 0 {
			return storage.ErrInvalidInput
		}
		k := key{t.CoinID, t.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, t := range ticks {
		exists, err := s.exists(ctx, t.CoinID, t.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (coin_id, symbol, price, volume, timestamp_ms)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range ticks {
		err = batch.Append(uint64(t.CoinID), t.Symbol, t.Price, t.Volume, uint64(t.TimestampMs))
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves ticks for a coin within [start, end] (inclusive).
func (s *TickStore) GetByTimeRange(ctx context.Context, coinID int64, start, end int64) ([]*domain.PriceTick, error) {
	query := `
		SELECT coin_id, symbol, price, volume, timestamp_ms
		FROM price_ticks
		WHERE coin_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(coinID), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query ticks by time range: %w", err)
	}
	defer rows.Close()

	return scanTicks(rows)
}

// LatestTimestamp returns the newest tick timestamp for a coin.
func (s *TickStore) LatestTimestamp(ctx context.Context, coinID int64) (int64, error) {
	query := `
		SELECT max(timestamp_ms), count(*)
		FROM price_ticks
		WHERE coin_id = ?
	`

	var ts uint64
	var count uint64
	if err := s.conn.QueryRow(ctx, query, uint64(coinID)).Scan(&ts, &count); err != nil {
		return 0, fmt.Errorf("query latest tick timestamp: %w", err)
	}
	if count == 0 {
		return 0, storage.ErrNotFound
	}
	return int64(ts), nil
}

// exists checks if a tick with the given key exists.
func (s *TickStore) exists(ctx context.Context, coinID, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM price_ticks
		WHERE coin_id = ? AND timestamp_ms = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, uint64(coinID), uint64(timestampMs)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanTicks(rows driver.Rows) ([]*domain.PriceTick, error) {
	var out []*domain.PriceTick
	for rows.Next() {
		var coinID, ts uint64
		var t domain.PriceTick
		if err := rows.Scan(&coinID, &t.Symbol, &t.Price, &t.Volume, &ts); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.CoinID = int64(coinID)
		t.TimestampMs = int64(ts)
		out = append(out, &t)
	}
	return out, rows.Err()
}
