package evaluation

import (
	"context"
	"errors"
	"fmt"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

// MarketData is the slice of the market service the evaluator reads.
type MarketData interface {
	MergedDailyCandle(ctx context.Context, coinID int64, date string) (*domain.DailyCandle, error)
	LongShortRatio(ctx context.Context, symbol, period string, limit int) ([]*domain.LongShortRatioPoint, error)
	DailyCandles(ctx context.Context, symbol string, limit int) ([]*domain.Candle, error)
}

// MarketEvaluator scores a trade against the coin's market conditions on
// the target day: where the close sat in the day's range, crowd positioning
// from the long/short ratio, and the short-term daily trend.
type MarketEvaluator struct {
	market  MarketData
	symbols map[int64]string // coin id -> exchange symbol
}

var _ Evaluator = (*MarketEvaluator)(nil)

// NewMarketEvaluator creates the evaluator. symbols maps tracked coin ids
// to their exchange symbols.
func NewMarketEvaluator(market MarketData, symbols map[int64]string) *MarketEvaluator {
	return &MarketEvaluator{market: market, symbols: symbols}
}

func (e *MarketEvaluator) Evaluate(ctx context.Context, job *domain.EvaluationJob) (*domain.ResultPayload, error) {
	symbol, ok := e.symbols[job.CoinID]
	if !ok {
		return nil, fmt.Errorf("coin %d is not tracked", job.CoinID)
	}

	candle, err := e.market.MergedDailyCandle(ctx, job.CoinID, job.TargetDate)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("no market data for coin %d on %s", job.CoinID, job.TargetDate)
		}
		return nil, fmt.Errorf("load merged candle: %w", err)
	}

	breakdown := map[string]float64{
		"dayRange": rangePosition(candle),
	}
	score := breakdown["dayRange"]
	weight := 1.0

	// Sentiment and trend are best-effort: origin outages degrade the score
	// to what tick data alone supports.
	if ratios, err := e.market.LongShortRatio(ctx, symbol, "1h", 24); err == nil && len(ratios) > 0 {
		breakdown["sentiment"] = sentimentScore(ratios)
		score += breakdown["sentiment"]
		weight++
	}
	if daily, err := e.market.DailyCandles(ctx, symbol, 7); err == nil && len(daily) > 1 {
		breakdown["trend"] = trendScore(daily)
		score += breakdown["trend"]
		weight++
	}

	score /= weight
	return &domain.ResultPayload{
		Score:     score,
		Summary:   summaryFor(score),
		Breakdown: breakdown,
	}, nil
}

// rangePosition scores where the close landed within the day's range: 1.0
// at the high, 0.0 at the low, 0.5 on a flat day.
func rangePosition(c *domain.DailyCandle) float64 {
	span := c.High - c.Low
	if span <= 0 {
		return 0.5
	}
	return (c.Close - c.Low) / span
}

// sentimentScore maps the average long/short account ratio into [0, 1],
// 0.5 at parity.
func sentimentScore(points []*domain.LongShortRatioPoint) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Ratio
	}
	avg := sum / float64(len(points))
	return avg / (avg + 1)
}

// trendScore compares the latest close with the mean of the preceding
// closes, clamped into [0, 1].
func trendScore(daily []*domain.Candle) float64 {
	last := daily[len(daily)-1]
	var sum float64
	for _, c := range daily[:len(daily)-1] {
		sum += c.Close
	}
	mean := sum / float64(len(daily)-1)
	if mean <= 0 {
		return 0.5
	}

	// +/-10% against the mean spans the whole score range.
	score := 0.5 + (last.Close-mean)/mean*5
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func summaryFor(score float64) string {
	switch {
	case score >= 0.7:
		return "favorable market conditions"
	case score >= 0.4:
		return "neutral market conditions"
	default:
		return "unfavorable market conditions"
	}
}
