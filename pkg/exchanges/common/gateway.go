package common

import "context"

// Gateway abstracts a trading venue. Implementations sign requests with the
// credentials they were constructed with; retry policy belongs to callers.
type Gateway interface {
	// SubmitOrder places a market order and returns the venue ack.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// GetBalance returns the available balance of asset in the venue account.
	GetBalance(ctx context.Context, asset string) (float64, error)
	// GetPrice returns the latest traded price for symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)
}
