// Package signal stores normalized market signals.
package signal

import "time"

// Signal is one market-data sample for a ticker with precomputed indicators.
// Indicator fields are pointers: an absent value stays nil and downstream rule
// evaluation treats nil as a failing gate, never as zero.
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	ObservedAt time.Time `json:"observed_at"`
	ClosePrice float64   `json:"close_price"`

	// 9-period EMA gap vs BTC EMA7, in percent.
	EMAGap     *float64 `json:"ema_gap"`
	RSI4h      *float64 `json:"rsi_4h"`
	RSI15m     *float64 `json:"rsi_15m"`
	Momentum15 *float64 `json:"momentum_15"`
	ATR30      *float64 `json:"atr_30"`
	ATRPercent *float64 `json:"atr_percent"`
	Volume30   *float64 `json:"volume_30"`
	VolumeMA   *float64 `json:"volume_ma"`

	CrossAboveEMA9 *bool `json:"cross_above_ema9"`
	CrossBelowEMA9 *bool `json:"cross_below_ema9"`

	Leverage int `json:"leverage"`
}
