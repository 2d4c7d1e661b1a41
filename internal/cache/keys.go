package cache

import "fmt"

// Key namespace convention:
//
//	<source>:<metric>:<symbol>:<period>   request-scoped series
//	<source>:<metric>:<coinId>:<date>     daily merges
const (
	sourceBinance = "binance"
	sourceJournal = "journal"
)

// LongShortRatioKey keys a cached long/short ratio series,
// e.g. "binance:longShortRatio:BTCUSDT:5m".
func LongShortRatioKey(symbol, period string) string {
	return fmt.Sprintf("%s:longShortRatio:%s:%s", sourceBinance, symbol, period)
}

// DailyCandlesKey keys a cached daily candle series fetched from the origin,
// e.g. "binance:dailyCandles:BTCUSDT:90".
func DailyCandlesKey(symbol string, limit int) string {
	return fmt.Sprintf("%s:dailyCandles:%s:%d", sourceBinance, symbol, limit)
}

// MergedDailyCandleKey keys the refresh listener's merged daily-candle view,
// e.g. "journal:dailyCandle:7:2024-01-01". The listener is the sole writer.
func MergedDailyCandleKey(coinID int64, date string) string {
	return fmt.Sprintf("%s:dailyCandle:%d:%s", sourceJournal, coinID, date)
}
