package domain

import "time"

// CoinRef identifies a tracked coin and its exchange symbol.
type CoinRef struct {
	CoinID int64
	Symbol string // exchange symbol, e.g. "BTCUSDT"
}

// PriceTick is one observed price point for a coin. Ticks are the persisted
// current-day state the refresh path derives merged candles from.
type PriceTick struct {
	CoinID      int64
	Symbol      string
	Price       float64
	Volume      float64
	TimestampMs int64
}

// Candle is an OHLCV bar as fetched from the origin market-data source.
type Candle struct {
	OpenTime  int64   `json:"openTime"` // unix ms
	CloseTime int64   `json:"closeTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// LongShortRatioPoint is one long/short account ratio observation.
type LongShortRatioPoint struct {
	Symbol       string  `json:"symbol"`
	Timestamp    int64   `json:"timestamp"` // unix ms
	Ratio        float64 `json:"ratio"`
	LongAccount  float64 `json:"longAccount"`
	ShortAccount float64 `json:"shortAccount"`
}

// DailyCandle is the merged view of one trading day for a coin, recomputed
// from persisted ticks on every refresh signal.
type DailyCandle struct {
	CoinID    int64   `json:"coinId"`
	Date      string  `json:"date"` // "2006-01-02" (UTC)
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	TickCount int     `json:"tickCount"`
	UpdatedAt int64   `json:"updatedAt"` // unix ms
}

// BuildDailyCandle folds a day's ticks into a merged daily candle.
// Ticks must be ordered by timestamp ASC. Returns nil when ticks is empty.
// The fold depends only on its inputs, so recomputation is idempotent.
func BuildDailyCandle(coinID int64, date string, ticks []*PriceTick, now time.Time) *DailyCandle {
	if len(ticks) == 0 {
		return nil
	}

	c := &DailyCandle{
		CoinID:    coinID,
		Date:      date,
		Open:      ticks[0].Price,
		High:      ticks[0].Price,
		Low:       ticks[0].Price,
		Close:     ticks[len(ticks)-1].Price,
		TickCount: len(ticks),
		UpdatedAt: now.UnixMilli(),
	}
	for _, t := range ticks {
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Volume += t.Volume
	}
	return c
}

// DayBoundsUTC returns the inclusive unix-ms range [start, end] covering the
// given UTC trading day in "2006-01-02" form.
func DayBoundsUTC(date string) (int64, int64, error) {
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return 0, 0, err
	}
	start := day.UnixMilli()
	end := day.Add(24*time.Hour).UnixMilli() - 1
	return start, end, nil
}
