package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"coin-journal/internal/domain"
)

const (
	maxCandleLimit = 1500
	maxRatioLimit  = 500
)

// BinanceOrigin implements Origin against the Binance futures REST API.
// Public market-data endpoints need no credentials.
type BinanceOrigin struct {
	client *futures.Client
}

var _ Origin = (*BinanceOrigin)(nil)

// NewBinanceOrigin creates an origin client. baseURL overrides the default
// API host when non-empty (used by tests and regional deployments).
func NewBinanceOrigin(baseURL string, httpTimeout time.Duration) *BinanceOrigin {
	client := futures.NewClient("", "")
	if strings.TrimSpace(baseURL) != "" {
		client.BaseURL = strings.TrimSpace(baseURL)
	}
	if httpTimeout > 0 {
		client.HTTPClient = &http.Client{Timeout: httpTimeout}
	}
	return &BinanceOrigin{client: client}
}

func (o *BinanceOrigin) LongShortRatio(ctx context.Context, symbol, period string, limit int) ([]*domain.LongShortRatioPoint, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	period = strings.ToLower(strings.TrimSpace(period))
	if symbol == "" || period == "" {
		return nil, fmt.Errorf("symbol and period are required")
	}
	if limit <= 0 {
		limit = 30
	}
	if limit > maxRatioLimit {
		limit = maxRatioLimit
	}

	raw, err := o.client.NewLongShortRatioService().
		Symbol(symbol).
		Period(period).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch long/short ratio %s %s: %w", symbol, period, err)
	}

	points := make([]*domain.LongShortRatioPoint, 0, len(raw))
	for _, item := range raw {
		if item == nil {
			continue
		}
		points = append(points, &domain.LongShortRatioPoint{
			Symbol:       symbol,
			Timestamp:    int64(item.Timestamp),
			Ratio:        parseFloat(item.LongShortRatio),
			LongAccount:  parseFloat(item.LongAccount),
			ShortAccount: parseFloat(item.ShortAccount),
		})
	}
	return points, nil
}

func (o *BinanceOrigin) DailyCandles(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error) {
	return o.Candles(ctx, symbol, "1d", limit)
}

func (o *BinanceOrigin) Candles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	interval = strings.ToLower(strings.TrimSpace(interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol and interval are required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxCandleLimit {
		limit = maxCandleLimit
	}

	kls, err := o.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
	}

	out := make([]*domain.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, &domain.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
