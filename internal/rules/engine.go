// Package rules holds the pure decision logic gating trade entry.
//
// Every predicate is side-effect free: callers supply the signal, the market
// context, and the user's open-trade count, and get a verdict back. A trade
// opens only when the macro gate, the side-specific technical gate, and the
// per-user risk gate all pass.
package rules

import "tradepilot/internal/signal"

// Direction is the intended position direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Context is a transient macro snapshot for one evaluation cycle.
type Context struct {
	FearGreedValue float64
	ATRPercent     float64
	VolumeRatio    float64
}

// Thresholds parameterize the engine. Zero values are never used; construct
// via DefaultThresholds or LoadThresholds.
type Thresholds struct {
	// Macro gate
	LongMaxFearGreed  float64 `yaml:"long_max_fear_greed"`
	ShortMinFearGreed float64 `yaml:"short_min_fear_greed"`
	MinATRPercent     float64 `yaml:"min_atr_percent"`
	MinVolumeRatio    float64 `yaml:"min_volume_ratio"`

	// Technical gate
	MinEMAGap float64 `yaml:"min_ema_gap"` // percent, mirrored for shorts
	MaxRSI    float64 `yaml:"max_rsi"`     // long entries must be below
	MinRSI    float64 `yaml:"min_rsi"`     // short entries must be above

	// Risk gate
	MaxOpenTrades int `yaml:"max_open_trades"`
}

// DefaultThresholds returns the production rule constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LongMaxFearGreed:  30,
		ShortMinFearGreed: 75,
		MinATRPercent:     0.2,
		MinVolumeRatio:    0.7,
		MinEMAGap:         0.3,
		MaxRSI:            75,
		MinRSI:            35,
		MaxOpenTrades:     2,
	}
}

// Engine evaluates entry gates against configured thresholds.
type Engine struct {
	t Thresholds
}

// NewEngine builds an engine with the given thresholds.
func NewEngine(t Thresholds) *Engine {
	return &Engine{t: t}
}

// MarketAllows applies the macro sentiment/liquidity filter. Longs are denied
// in overheated sentiment; shorts are denied unless sentiment is greedy; both
// are denied when the market shows no real movement.
func (e *Engine) MarketAllows(dir Direction, ctx Context) bool {
	if ctx.ATRPercent <= e.t.MinATRPercent || ctx.VolumeRatio <= e.t.MinVolumeRatio {
		return false
	}
	switch dir {
	case DirectionLong:
		return ctx.FearGreedValue <= e.t.LongMaxFearGreed
	case DirectionShort:
		return ctx.FearGreedValue >= e.t.ShortMinFearGreed
	}
	return false
}

// CanOpenLong requires trend alignment across timeframes plus a cross
// confirmation, without the market being overbought. Any missing indicator
// fails the gate.
func (e *Engine) CanOpenLong(sig signal.Signal) bool {
	if sig.EMAGap == nil || sig.CrossAboveEMA9 == nil || sig.RSI4h == nil ||
		sig.RSI15m == nil || sig.Momentum15 == nil {
		return false
	}
	return *sig.EMAGap > e.t.MinEMAGap &&
		*sig.CrossAboveEMA9 &&
		*sig.RSI4h < e.t.MaxRSI &&
		*sig.RSI15m < e.t.MaxRSI &&
		*sig.Momentum15 > 0
}

// CanOpenShort is the symmetric inverse of CanOpenLong.
func (e *Engine) CanOpenShort(sig signal.Signal) bool {
	if sig.EMAGap == nil || sig.CrossBelowEMA9 == nil || sig.RSI4h == nil ||
		sig.RSI15m == nil || sig.Momentum15 == nil {
		return false
	}
	return *sig.EMAGap < -e.t.MinEMAGap &&
		*sig.CrossBelowEMA9 &&
		*sig.RSI4h > e.t.MinRSI &&
		*sig.RSI15m > e.t.MinRSI &&
		*sig.Momentum15 < 0
}

// RiskAllows is the per-user concurrent-trade cap.
func (e *Engine) RiskAllows(openCount int) bool {
	return openCount < e.t.MaxOpenTrades
}

// Evaluate combines all gates for one direction.
func (e *Engine) Evaluate(dir Direction, sig signal.Signal, ctx Context, openCount int) bool {
	if !e.MarketAllows(dir, ctx) {
		return false
	}
	if !e.RiskAllows(openCount) {
		return false
	}
	switch dir {
	case DirectionLong:
		return e.CanOpenLong(sig)
	case DirectionShort:
		return e.CanOpenShort(sig)
	}
	return false
}
