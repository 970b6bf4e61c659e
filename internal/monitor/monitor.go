// Package monitor re-evaluates open trades against current prices and closes
// them when a take-profit or stop-loss threshold is crossed.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradepilot/internal/credentials"
	"tradepilot/internal/events"
	"tradepilot/internal/orchestrator"
	"tradepilot/internal/trade"
	"tradepilot/pkg/exchanges/common"
)

// Monitor runs on its own schedule, independent of signal evaluation.
type Monitor struct {
	trades   *trade.Store
	resolver *credentials.Resolver
	gateways orchestrator.GatewayBuilder
	bus      *events.Bus
	interval time.Duration
	timeout  time.Duration
}

// New creates a trade monitor.
func New(trades *trade.Store, resolver *credentials.Resolver, gateways orchestrator.GatewayBuilder, bus *events.Bus, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Monitor{
		trades:   trades,
		resolver: resolver,
		gateways: gateways,
		bus:      bus,
		interval: interval,
		timeout:  timeout,
	}
}

// Start launches the scan loop until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Scan(ctx)
			}
		}
	}()
}

// Scan checks every open trade once. Price lookups for the same symbol on the
// same venue are deduplicated within one pass.
func (m *Monitor) Scan(ctx context.Context) {
	open, err := m.trades.AllOpen(ctx)
	if err != nil {
		log.Printf("monitor: list open trades: %v", err)
		return
	}
	if len(open) == 0 {
		return
	}

	prices := &priceCache{m: make(map[string]float64)}
	for _, t := range open {
		scanCtx, cancel := context.WithTimeout(ctx, m.timeout)
		m.checkTrade(scanCtx, t, prices)
		cancel()
	}
}

func (m *Monitor) checkTrade(ctx context.Context, t trade.Trade, prices *priceCache) {
	creds, err := m.resolver.Resolve(ctx, t.UserID, t.Exchange, t.Testnet)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			// Keys were removed while the position is still open; nothing to
			// do but keep the record and warn.
			log.Printf("warn: monitor: no credentials for user %s trade %s", t.UserID, t.ID)
			return
		}
		log.Printf("monitor: resolve credentials for trade %s: %v", t.ID, err)
		return
	}

	gw, err := m.gateways.Build(t.Exchange, creds)
	if err != nil {
		log.Printf("monitor: build gateway for trade %s: %v", t.ID, err)
		return
	}

	// Testnet and mainnet quote different prices, so the network is part of
	// the cache key.
	network := "live"
	if t.Testnet {
		network = "testnet"
	}
	cacheKey := string(t.Exchange) + ":" + network + ":" + t.Symbol
	price, ok := prices.get(cacheKey)
	if !ok {
		price, err = gw.GetPrice(ctx, t.Symbol)
		if err != nil {
			log.Printf("monitor: price for %s: %v", t.Symbol, err)
			return
		}
		prices.set(cacheKey, price)
	}

	reason, triggered := CheckExit(t, price)
	if !triggered {
		return
	}

	// Close through the same adapter with a reduce-only market order, then
	// record the transition. The store rejects a second close, so a crash
	// between the two steps cannot double-close the row.
	_, err = gw.SubmitOrder(ctx, common.OrderRequest{
		Symbol:     t.Symbol,
		Side:       t.Side.Opposite(),
		Qty:        t.Qty,
		ClientID:   uuid.NewString(),
		ReduceOnly: true,
	})
	if err != nil {
		log.Printf("monitor: close order for trade %s: %v", t.ID, err)
		return
	}

	if err := m.trades.Close(ctx, t.ID, price, reason); err != nil {
		if errors.Is(err, trade.ErrAlreadyClosed) {
			return
		}
		log.Printf("monitor: record close for trade %s: %v", t.ID, err)
		return
	}

	log.Printf("trade %s closed: %s at %.8g", t.ID, reason, price)
	m.bus.Publish(events.EventTradeClosed, t.ID)
}

// CheckExit reports whether price crosses the trade's TP or SL threshold.
// For a buy the TP sits above entry; mirrored for a sell.
func CheckExit(t trade.Trade, price float64) (trade.ExitReason, bool) {
	if t.Side == common.SideBuy {
		if price >= t.TakeProfit {
			return trade.ExitTakeProfit, true
		}
		if price <= t.StopLoss {
			return trade.ExitStopLoss, true
		}
		return "", false
	}
	if price <= t.TakeProfit {
		return trade.ExitTakeProfit, true
	}
	if price >= t.StopLoss {
		return trade.ExitStopLoss, true
	}
	return "", false
}

type priceCache struct {
	mu sync.RWMutex
	m  map[string]float64
}

func (p *priceCache) get(key string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.m[key]
	return v, ok
}

func (p *priceCache) set(key string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = price
}
