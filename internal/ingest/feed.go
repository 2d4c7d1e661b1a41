// Package ingest persists the current-day price state. A polling feed pulls
// minute candles from the origin, stores one tick per closed candle, and
// signals the bus so the refresh listener can rebuild merged candles.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coin-journal/internal/bus"
	"coin-journal/internal/domain"
	"coin-journal/internal/market"
	"coin-journal/internal/observability"
	"coin-journal/internal/storage"
)

// Default feed tuning.
const (
	DefaultPollInterval = time.Minute

	// pollBatchLimit bounds how many candles one poll backfills after an
	// outage.
	pollBatchLimit = 120
)

// Options configures the Feed.
type Options struct {
	Origin market.Origin
	Ticks  storage.TickStore
	Bus    bus.Publisher
	Coins  []domain.CoinRef
	Logger *log.Logger

	PollInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Feed polls the origin for closed minute candles and persists them as
// price ticks. Every poll that stores at least one new tick publishes a
// prices-updated signal.
type Feed struct {
	origin market.Origin
	ticks  storage.TickStore
	bus    bus.Publisher
	coins  []domain.CoinRef
	logger *log.Logger

	pollInterval time.Duration
	now          func() time.Time
}

// NewFeed creates a feed.
func NewFeed(opts Options) *Feed {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Feed{
		origin:       opts.Origin,
		ticks:        opts.Ticks,
		bus:          opts.Bus,
		coins:        opts.Coins,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Printf("[ingest] polling %d coins every %s", len(f.coins), f.pollInterval)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		if err := f.Poll(ctx); err != nil {
			f.logger.Printf("[ingest] poll failed: %v", err)
			observability.RecordIngestPoll("error")
		} else {
			observability.RecordIngestPoll("ok")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll fetches and persists new ticks for every coin, then signals the bus
// when anything was stored. Per-coin failures are logged and do not stop
// the poll; the error returned is the first one seen.
func (f *Feed) Poll(ctx context.Context) error {
	inserted := 0
	var firstErr error

	for _, coin := range f.coins {
		n, err := f.pollCoin(ctx, coin)
		if err != nil {
			f.logger.Printf("[ingest] coin %d (%s): %v", coin.CoinID, coin.Symbol, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		inserted += n
	}

	if inserted > 0 {
		observability.RecordTicksIngested(inserted)
		observability.DefaultMetrics.LastSuccessfulIngest.Set(float64(f.now().Unix()))
		if err := f.bus.Publish(ctx, bus.SignalPricesUpdated); err != nil {
			f.logger.Printf("[ingest] publish %s: %v", bus.SignalPricesUpdated, err)
		}
	}
	return firstErr
}

func (f *Feed) pollCoin(ctx context.Context, coin domain.CoinRef) (int, error) {
	latest, err := f.ticks.LatestTimestamp(ctx, coin.CoinID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("latest timestamp: %w", err)
		}
		latest = 0
	}

	candles, err := f.origin.Candles(ctx, coin.Symbol, "1m", pollBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch candles: %w", err)
	}

	nowMs := f.now().UnixMilli()
	ticks := make([]*domain.PriceTick, 0, len(candles))
	for _, c := range candles {
		// Only closed candles become ticks; the open one still moves.
		if c.CloseTime > nowMs || c.CloseTime <= latest {
			continue
		}
		ticks = append(ticks, &domain.PriceTick{
			CoinID:      coin.CoinID,
			Symbol:      coin.Symbol,
			Price:       c.Close,
			Volume:      c.Volume,
			TimestampMs: c.CloseTime,
		})
	}
	if len(ticks) == 0 {
		return 0, nil
	}

	if err := f.ticks.InsertBulk(ctx, ticks); err != nil {
		return 0, fmt.Errorf("store ticks: %w", err)
	}
	return len(ticks), nil
}
