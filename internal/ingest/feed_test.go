package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-journal/internal/bus"
	"coin-journal/internal/domain"
	memstore "coin-journal/internal/storage/memory"
)

var feedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type stubOrigin struct {
	mu      sync.Mutex
	candles map[string][]*domain.Candle
	err     error
}

func (o *stubOrigin) LongShortRatio(context.Context, string, string, int) ([]*domain.LongShortRatioPoint, error) {
	return nil, nil
}

func (o *stubOrigin) DailyCandles(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	return o.Candles(ctx, symbol, "1d", limit)
}

func (o *stubOrigin) Candles(_ context.Context, symbol, _ string, _ int) ([]*domain.Candle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	return o.candles[symbol], nil
}

func minuteCandle(closeTime time.Time, close, volume float64) *domain.Candle {
	return &domain.Candle{
		OpenTime:  closeTime.Add(-time.Minute).UnixMilli(),
		CloseTime: closeTime.UnixMilli(),
		Close:     close,
		Volume:    volume,
	}
}

func newTestFeed(origin *stubOrigin, ticks *memstore.TickStore, b *bus.MemoryBus) *Feed {
	return NewFeed(Options{
		Origin: origin,
		Ticks:  ticks,
		Bus:    b,
		Coins:  []domain.CoinRef{{CoinID: 7, Symbol: "BTCUSDT"}},
		Now:    func() time.Time { return feedNow },
	})
}

func TestPollStoresClosedCandlesAndSignals(t *testing.T) {
	origin := &stubOrigin{candles: map[string][]*domain.Candle{
		"BTCUSDT": {
			minuteCandle(feedNow.Add(-2*time.Minute), 100, 1),
			minuteCandle(feedNow.Add(-time.Minute), 110, 2),
			// Still open, must be skipped.
			minuteCandle(feedNow.Add(time.Minute), 120, 3),
		},
	}}
	ticks := memstore.NewTickStore()
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	signals, err := b.Subscribe(ctx, bus.SignalPricesUpdated)
	require.NoError(t, err)

	feed := newTestFeed(origin, ticks, b)
	require.NoError(t, feed.Poll(ctx))

	stored, err := ticks.GetByTimeRange(ctx, 7, 0, feedNow.UnixMilli())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 100.0, stored[0].Price)
	assert.Equal(t, 110.0, stored[1].Price)

	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatal("expected a prices-updated signal")
	}
}

func TestPollSkipsAlreadyStoredCandles(t *testing.T) {
	origin := &stubOrigin{candles: map[string][]*domain.Candle{
		"BTCUSDT": {
			minuteCandle(feedNow.Add(-2*time.Minute), 100, 1),
			minuteCandle(feedNow.Add(-time.Minute), 110, 2),
		},
	}}
	ticks := memstore.NewTickStore()
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	feed := newTestFeed(origin, ticks, b)
	require.NoError(t, feed.Poll(ctx))

	signals, err := b.Subscribe(ctx, bus.SignalPricesUpdated)
	require.NoError(t, err)

	// Same candles again: nothing new, no signal.
	require.NoError(t, feed.Poll(ctx))

	stored, err := ticks.GetByTimeRange(ctx, 7, 0, feedNow.UnixMilli())
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	select {
	case <-signals:
		t.Fatal("unchanged poll must not signal")
	default:
	}
}

func TestPollBackfillsOnlyNewCandles(t *testing.T) {
	first := minuteCandle(feedNow.Add(-3*time.Minute), 100, 1)
	origin := &stubOrigin{candles: map[string][]*domain.Candle{
		"BTCUSDT": {first},
	}}
	ticks := memstore.NewTickStore()
	b := bus.NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	feed := newTestFeed(origin, ticks, b)
	require.NoError(t, feed.Poll(ctx))

	// The origin now returns an overlapping window with two fresh candles.
	origin.mu.Lock()
	origin.candles["BTCUSDT"] = []*domain.Candle{
		first,
		minuteCandle(feedNow.Add(-2*time.Minute), 110, 1),
		minuteCandle(feedNow.Add(-time.Minute), 120, 1),
	}
	origin.mu.Unlock()

	require.NoError(t, feed.Poll(ctx))

	stored, err := ticks.GetByTimeRange(ctx, 7, 0, feedNow.UnixMilli())
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, 120.0, stored[2].Price)
}

func TestPollOriginErrorReported(t *testing.T) {
	origin := &stubOrigin{err: errors.New("origin down")}
	b := bus.NewMemoryBus()
	defer b.Close()

	feed := newTestFeed(origin, memstore.NewTickStore(), b)
	err := feed.Poll(context.Background())
	require.Error(t, err)
}
