// Package trade persists position lifecycle from open to close.
package trade

import (
	"time"

	"tradepilot/pkg/exchanges/common"
)

// Status is a trade lifecycle state. The only legal transition is
// open -> closed, exactly once; rows are never deleted.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// ExitReason records why the monitor closed a trade.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitManual     ExitReason = "manual"
)

// Trade is one position. TP/SL are fixed at creation from entry price and
// leverage; only the monitor acts on them afterwards.
type Trade struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Exchange        common.Exchange `json:"exchange"`
	Testnet         bool            `json:"testnet"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	Symbol          string          `json:"symbol"`
	Side            common.Side     `json:"side"`
	Qty             float64         `json:"qty"`
	EntryPrice      float64         `json:"entry_price"`
	TakeProfit      float64         `json:"take_profit"`
	StopLoss        float64         `json:"stop_loss"`
	Leverage        int             `json:"leverage"`
	Status          Status          `json:"status"`
	OpenedAt        time.Time       `json:"opened_at"`

	ExitPrice  *float64    `json:"exit_price,omitempty"`
	ExitReason *ExitReason `json:"exit_reason,omitempty"`
	ClosedAt   *time.Time  `json:"closed_at,omitempty"`
}
