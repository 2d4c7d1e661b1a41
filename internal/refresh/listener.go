// Package refresh keeps merged daily candles current. Each ingestion signal
// triggers a full recompute from persisted ticks, so replayed or reordered
// signals converge on the same cache state.
package refresh

import (
	"context"
	"errors"
	"log"
	"time"

	"coin-journal/internal/bus"
	"coin-journal/internal/cache"
	"coin-journal/internal/domain"
	"coin-journal/internal/observability"
	"coin-journal/internal/storage"
)

// DefaultCandleTTL bounds staleness of refreshed candles if the ingestion
// feed stops signalling.
const DefaultCandleTTL = 24 * time.Hour

// Options configures the Listener.
type Options struct {
	Bus    bus.Subscriber
	Ticks  storage.TickStore
	Cache  cache.Store
	Coins  []domain.CoinRef
	Logger *log.Logger

	CandleTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Listener subscribes to ingestion signals and rebuilds the merged daily
// candle cache entry for every tracked coin.
type Listener struct {
	bus    bus.Subscriber
	ticks  storage.TickStore
	cache  cache.Store
	coins  []domain.CoinRef
	logger *log.Logger

	candleTTL time.Duration
	now       func() time.Time
}

// NewListener creates a listener.
func NewListener(opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.CandleTTL <= 0 {
		opts.CandleTTL = DefaultCandleTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Listener{
		bus:       opts.Bus,
		ticks:     opts.Ticks,
		cache:     opts.Cache,
		coins:     opts.Coins,
		logger:    opts.Logger,
		candleTTL: opts.CandleTTL,
		now:       opts.Now,
	}
}

// Run consumes signals until ctx is cancelled or the subscription closes.
func (l *Listener) Run(ctx context.Context) error {
	ch, err := l.bus.Subscribe(ctx, bus.SignalPricesUpdated)
	if err != nil {
		return err
	}
	l.logger.Printf("[refresh] listening for %s signals (%d coins)", bus.SignalPricesUpdated, len(l.coins))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			if err := l.HandleSignal(ctx); err != nil {
				l.logger.Printf("[refresh] run failed: %v", err)
			}
		}
	}
}

// HandleSignal recomputes the current trading day's merged candle for every
// tracked coin. A coin whose day has no ticks gets its cache entry dropped
// instead of a synthetic candle. Per-coin failures are logged and do not
// stop the run.
func (l *Listener) HandleSignal(ctx context.Context) error {
	started := l.now()
	date := started.UTC().Format("2006-01-02")

	var firstErr error
	for _, coin := range l.coins {
		if err := l.refreshCoin(ctx, coin, date, started); err != nil {
			l.logger.Printf("[refresh] coin %d (%s): %v", coin.CoinID, coin.Symbol, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	elapsed := time.Since(started).Seconds()
	if firstErr != nil {
		observability.RecordRefreshRun("error", elapsed)
		return firstErr
	}
	observability.RecordRefreshRun("ok", elapsed)
	observability.DefaultMetrics.LastSuccessfulRefresh.Set(float64(l.now().Unix()))
	return nil
}

func (l *Listener) refreshCoin(ctx context.Context, coin domain.CoinRef, date string, now time.Time) error {
	start, end, err := domain.DayBoundsUTC(date)
	if err != nil {
		return err
	}

	ticks, err := l.ticks.GetByTimeRange(ctx, coin.CoinID, start, end)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	key := cache.MergedDailyCandleKey(coin.CoinID, date)
	candle := domain.BuildDailyCandle(coin.CoinID, date, ticks, now)
	if candle == nil {
		return l.cache.Delete(ctx, key)
	}
	return l.cache.Set(ctx, key, candle, l.candleTTL)
}
