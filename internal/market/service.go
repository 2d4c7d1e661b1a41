package market

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"coin-journal/internal/cache"
	"coin-journal/internal/domain"
	"coin-journal/internal/observability"
	"coin-journal/internal/storage"
)

// Default TTLs for cached market data.
const (
	DefaultRatioTTL   = 5 * time.Minute
	DefaultCandlesTTL = 15 * time.Minute

	// Merged daily candles are refreshed by the listener on every ingest
	// signal; the TTL only bounds staleness if the feed goes quiet.
	DefaultMergedCandleTTL = 24 * time.Hour
)

// ServiceOptions configures the read-through market service.
type ServiceOptions struct {
	Cache  cache.Store
	Origin Origin
	Ticks  storage.TickStore
	Logger *log.Logger

	RatioTTL        time.Duration
	CandlesTTL      time.Duration
	MergedCandleTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service answers market-data reads cache-first. A miss triggers exactly one
// origin fetch per key regardless of how many callers are waiting, then the
// result is cached with the configured TTL.
type Service struct {
	cache  cache.Store
	origin Origin
	ticks  storage.TickStore
	logger *log.Logger

	ratioTTL        time.Duration
	candlesTTL      time.Duration
	mergedCandleTTL time.Duration

	group singleflight.Group
	now   func() time.Time
}

// NewService creates a market service.
func NewService(opts ServiceOptions) *Service {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.RatioTTL <= 0 {
		opts.RatioTTL = DefaultRatioTTL
	}
	if opts.CandlesTTL <= 0 {
		opts.CandlesTTL = DefaultCandlesTTL
	}
	if opts.MergedCandleTTL <= 0 {
		opts.MergedCandleTTL = DefaultMergedCandleTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		cache:           opts.Cache,
		origin:          opts.Origin,
		ticks:           opts.Ticks,
		logger:          opts.Logger,
		ratioTTL:        opts.RatioTTL,
		candlesTTL:      opts.CandlesTTL,
		mergedCandleTTL: opts.MergedCandleTTL,
		now:             opts.Now,
	}
}

// LongShortRatio returns long/short account ratio points for the symbol and
// period, most recent last. Serves from cache when fresh.
func (s *Service) LongShortRatio(ctx context.Context, symbol, period string, limit int) ([]*domain.LongShortRatioPoint, error) {
	if limit <= 0 {
		limit = 30
	}
	key := cache.LongShortRatioKey(symbol, period)

	var cached []*domain.LongShortRatioPoint
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if hit {
		observability.RecordCacheHit("longShortRatio")
		return tail(cached, limit), nil
	}
	observability.RecordCacheMiss("longShortRatio")

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Another caller may have filled the cache while we waited.
		var fresh []*domain.LongShortRatioPoint
		if hit, err := s.cache.Get(ctx, key, &fresh); err == nil && hit {
			return fresh, nil
		}

		points, err := s.origin.LongShortRatio(ctx, symbol, period, maxRatioLimit)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, points, s.ratioTTL); err != nil {
			s.logger.Printf("[market] cache set %s: %v", key, err)
		}
		return points, nil
	})
	if err != nil {
		return nil, err
	}
	return tail(v.([]*domain.LongShortRatioPoint), limit), nil
}

// DailyCandles returns up to limit daily candles for the symbol, oldest
// first. Serves from cache when fresh.
func (s *Service) DailyCandles(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	if limit <= 0 {
		limit = 30
	}
	key := cache.DailyCandlesKey(symbol, limit)

	var cached []*domain.Candle
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if hit {
		observability.RecordCacheHit("dailyCandles")
		return cached, nil
	}
	observability.RecordCacheMiss("dailyCandles")

	v, err, _ := s.group.Do(key, func() (any, error) {
		var fresh []*domain.Candle
		if hit, err := s.cache.Get(ctx, key, &fresh); err == nil && hit {
			return fresh, nil
		}

		candles, err := s.origin.DailyCandles(ctx, symbol, limit)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, candles, s.candlesTTL); err != nil {
			s.logger.Printf("[market] cache set %s: %v", key, err)
		}
		return candles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Candle), nil
}

// MergedDailyCandle returns the merged candle for the coin's trading day.
// On a cache miss it is recomputed from persisted ticks and re-cached.
// Returns storage.ErrNotFound when the day has no ticks.
func (s *Service) MergedDailyCandle(ctx context.Context, coinID int64, date string) (*domain.DailyCandle, error) {
	key := cache.MergedDailyCandleKey(coinID, date)

	var cached domain.DailyCandle
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if hit {
		observability.RecordCacheHit("mergedDailyCandle")
		return &cached, nil
	}
	observability.RecordCacheMiss("mergedDailyCandle")

	v, err, _ := s.group.Do(key, func() (any, error) {
		var fresh domain.DailyCandle
		if hit, err := s.cache.Get(ctx, key, &fresh); err == nil && hit {
			return &fresh, nil
		}

		start, end, err := domain.DayBoundsUTC(date)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", storage.ErrInvalidInput, date)
		}
		ticks, err := s.ticks.GetByTimeRange(ctx, coinID, start, end)
		if err != nil {
			return nil, fmt.Errorf("load ticks for coin %d: %w", coinID, err)
		}

		candle := domain.BuildDailyCandle(coinID, date, ticks, s.now())
		if candle == nil {
			return nil, fmt.Errorf("%w: no ticks for coin %d on %s", storage.ErrNotFound, coinID, date)
		}
		if err := s.cache.Set(ctx, key, candle, s.mergedCandleTTL); err != nil {
			s.logger.Printf("[market] cache set %s: %v", key, err)
		}
		return candle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.DailyCandle), nil
}

func tail[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[len(items)-limit:]
}
