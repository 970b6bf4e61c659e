// Package gateway builds venue adapters from resolved credentials.
package gateway

import (
	"fmt"
	"time"

	"tradepilot/pkg/exchanges/binance"
	"tradepilot/pkg/exchanges/bybit"
	"tradepilot/pkg/exchanges/common"
)

// Factory creates Gateway instances, sharing one rate limiter per venue so
// concurrent users stay inside exchange limits together.
type Factory struct {
	timeout  time.Duration
	limiters map[common.Exchange]*common.RateLimiter
}

// NewFactory builds a factory pacing each venue at rps requests per second.
func NewFactory(rps float64, timeout time.Duration) *Factory {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Factory{
		timeout: timeout,
		limiters: map[common.Exchange]*common.RateLimiter{
			common.ExchangeBinance: common.NewRateLimiter(rps, burst, 2400, time.Minute),
			common.ExchangeBybit:   common.NewRateLimiter(rps, burst, 600, time.Minute),
		},
	}
}

// Build returns a Gateway for the venue signed with creds.
func (f *Factory) Build(exchange common.Exchange, creds common.Credentials) (common.Gateway, error) {
	switch exchange {
	case common.ExchangeBinance:
		return binance.NewClient(creds, f.limiters[exchange], f.timeout), nil
	case common.ExchangeBybit:
		return bybit.NewClient(creds, f.limiters[exchange], f.timeout), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", exchange)
	}
}
