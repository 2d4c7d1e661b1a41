// Package market serves market data through the cache. Reads go cache-first;
// only a miss reaches the origin, and concurrent misses for the same key
// collapse into a single origin call.
package market

import (
	"context"

	"coin-journal/internal/domain"
)

// Origin fetches market data from the upstream exchange API.
type Origin interface {
	// LongShortRatio returns up to limit long/short account ratio points
	// for the symbol, oldest first.
	LongShortRatio(ctx context.Context, symbol, period string, limit int) ([]*domain.LongShortRatioPoint, error)

	// DailyCandles returns up to limit daily OHLCV candles for the symbol,
	// oldest first.
	DailyCandles(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error)

	// Candles returns up to limit candles at the given interval, oldest
	// first. The ingestion feed uses this to derive ticks.
	Candles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)
}
