// Package orchestrator turns allowed rule decisions into venue orders.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradepilot/internal/credentials"
	"tradepilot/internal/events"
	"tradepilot/internal/rules"
	"tradepilot/internal/trade"
	"tradepilot/pkg/exchanges/common"
)

// Outcome classifies one execution attempt.
type Outcome string

const (
	OutcomeOpened        Outcome = "opened"
	OutcomeRiskLimited   Outcome = "risk_limited"
	OutcomeNoCredentials Outcome = "no_credentials"
	OutcomeSizingReject  Outcome = "sizing_rejected"
	OutcomeFailed        Outcome = "failed"
)

// Attempt is one (user, symbol, direction) tuple that passed the rule engine.
type Attempt struct {
	UserID    string
	Symbol    string
	Direction rules.Direction
	Leverage  int
}

// Result reports what happened to one attempt.
type Result struct {
	Attempt Attempt
	Outcome Outcome
	Trade   *trade.Trade
	Err     error
}

// Config holds sizing and risk parameters.
type Config struct {
	MaxOpenTrades  int
	AllocationFrac float64
	TakeProfitFrac float64 // TP distance per leverage unit
	StopLossFrac   float64 // SL distance per leverage unit
	QuoteAsset     string
	WorkerLimit    int
	AttemptTimeout time.Duration
}

// GatewayBuilder constructs a venue adapter for resolved credentials.
type GatewayBuilder interface {
	Build(exchange common.Exchange, creds common.Credentials) (common.Gateway, error)
}

// Orchestrator executes attempts with bounded concurrency across users.
type Orchestrator struct {
	cfg      Config
	trades   *trade.Store
	resolver *credentials.Resolver
	gateways GatewayBuilder
	bus      *events.Bus

	userMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(cfg Config, trades *trade.Store, resolver *credentials.Resolver, gateways GatewayBuilder, bus *events.Bus) *Orchestrator {
	if cfg.WorkerLimit <= 0 {
		cfg.WorkerLimit = 8
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:       cfg,
		trades:    trades,
		resolver:  resolver,
		gateways:  gateways,
		bus:       bus,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// RunBatch executes attempts concurrently under the worker limit. Once budget
// elapses no new attempts are admitted, but in-flight ones run to completion
// so no venue order is left without a local record.
func (o *Orchestrator) RunBatch(ctx context.Context, attempts []Attempt, budget time.Duration) []Result {
	admitDeadline := time.Now().Add(budget)
	sem := make(chan struct{}, o.cfg.WorkerLimit)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)

	for _, a := range attempts {
		if budget > 0 && time.Now().After(admitDeadline) {
			log.Printf("batch budget exhausted, %s/%s not admitted", a.UserID, a.Symbol)
			break
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			o.bus.Publish(events.EventBatchFinished, len(results))
			return results
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(a Attempt) {
			defer wg.Done()
			defer func() { <-sem }()

			attemptCtx, cancel := context.WithTimeout(context.Background(), o.cfg.AttemptTimeout)
			defer cancel()

			res := o.Execute(attemptCtx, a)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(a)
	}

	wg.Wait()
	o.bus.Publish(events.EventBatchFinished, len(results))
	return results
}

// Execute runs the steps for one attempt strictly in order: risk recheck,
// balance, price, sizing, submission, recording. Every failure is terminal
// for this cycle; the next scheduled evaluation may retry.
func (o *Orchestrator) Execute(ctx context.Context, a Attempt) Result {
	// Attempts for the same user are serialized so the cap recheck and the
	// trade record cannot interleave. Different users still run in parallel.
	unlock := o.lockUser(a.UserID)
	defer unlock()

	// Recheck the open-trade cap against the store. The rule engine already
	// gated on this, but state may have changed between evaluation and
	// execution.
	openCount, err := o.trades.CountOpen(ctx, a.UserID)
	if err != nil {
		return o.fail(a, err)
	}
	if openCount >= o.cfg.MaxOpenTrades {
		return Result{Attempt: a, Outcome: OutcomeRiskLimited}
	}

	gw, exchange, testnet, err := o.resolveGateway(ctx, a.UserID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			log.Printf("warn: user %s has no exchange credentials, skipping", a.UserID)
			return Result{Attempt: a, Outcome: OutcomeNoCredentials}
		}
		return o.fail(a, err)
	}

	balance, err := gw.GetBalance(ctx, o.cfg.QuoteAsset)
	if err != nil {
		return o.fail(a, err)
	}
	if balance <= 0 {
		// Expected and frequent; not an error.
		return Result{Attempt: a, Outcome: OutcomeSizingReject}
	}

	price, err := gw.GetPrice(ctx, a.Symbol)
	if err != nil {
		return o.fail(a, err)
	}

	leverage := a.Leverage
	if leverage < 1 {
		leverage = 1
	}
	qty := ComputeQuantity(balance, o.cfg.AllocationFrac, leverage, price)
	if qty < 1 {
		return Result{Attempt: a, Outcome: OutcomeSizingReject}
	}

	side := common.SideBuy
	if a.Direction == rules.DirectionShort {
		side = common.SideSell
	}

	result, err := gw.SubmitOrder(ctx, common.OrderRequest{
		Symbol:   a.Symbol,
		Side:     side,
		Qty:      qty,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		var orderErr *common.OrderError
		if errors.As(err, &orderErr) {
			log.Printf("order rejected for user %s on %s: %v", a.UserID, a.Symbol, orderErr)
		}
		o.bus.Publish(events.EventOrderRejected, Result{Attempt: a, Outcome: OutcomeFailed, Err: err})
		return Result{Attempt: a, Outcome: OutcomeFailed, Err: err}
	}

	entry := result.FilledPrice
	if entry <= 0 {
		entry = price
	}
	takeProfit, stopLoss := ComputeTargets(side, entry, leverage, o.cfg.TakeProfitFrac, o.cfg.StopLossFrac)

	t := trade.Trade{
		ID:              uuid.NewString(),
		UserID:          a.UserID,
		Exchange:        exchange,
		Testnet:         testnet,
		ExchangeOrderID: result.ExchangeOrderID,
		Symbol:          a.Symbol,
		Side:            side,
		Qty:             qty,
		EntryPrice:      entry,
		TakeProfit:      takeProfit,
		StopLoss:        stopLoss,
		Leverage:        leverage,
		Status:          trade.StatusOpen,
	}
	if err := o.trades.Record(ctx, t); err != nil {
		// The venue order exists but the record failed; surface loudly so the
		// reconciliation path (next monitor scan against open orders) is the
		// operator's cue.
		log.Printf("record trade failed for user %s order %s: %v", a.UserID, result.ExchangeOrderID, err)
		return o.fail(a, err)
	}

	o.bus.Publish(events.EventTradeOpened, t)
	return Result{Attempt: a, Outcome: OutcomeOpened, Trade: &t}
}

func (o *Orchestrator) lockUser(userID string) func() {
	o.userMu.Lock()
	l, ok := o.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		o.userLocks[userID] = l
	}
	o.userMu.Unlock()
	l.Lock()
	return l.Unlock
}

// resolveGateway picks the user's first active credential and builds its
// adapter, preferring venues in declaration order.
func (o *Orchestrator) resolveGateway(ctx context.Context, userID string) (common.Gateway, common.Exchange, bool, error) {
	listed, err := o.resolver.ListByUser(ctx, userID)
	if err != nil {
		return nil, "", false, err
	}
	if len(listed) == 0 {
		return nil, "", false, credentials.ErrNotFound
	}

	chosen := listed[0]
	creds, err := o.resolver.Resolve(ctx, userID, chosen.Exchange, chosen.Testnet)
	if err != nil {
		return nil, "", false, err
	}
	gw, err := o.gateways.Build(chosen.Exchange, creds)
	if err != nil {
		return nil, "", false, err
	}
	return gw, chosen.Exchange, chosen.Testnet, nil
}

func (o *Orchestrator) fail(a Attempt, err error) Result {
	log.Printf("attempt %s/%s failed: %v", a.UserID, a.Symbol, err)
	return Result{Attempt: a, Outcome: OutcomeFailed, Err: err}
}

// ComputeQuantity sizes an order: floor(balance x allocation x leverage / price).
// Quantities under one unit are dust the venue would reject.
func ComputeQuantity(balance, allocationFrac float64, leverage int, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Floor(balance * allocationFrac * float64(leverage) / price)
}

// ComputeTargets derives TP/SL from the entry price. For a buy the TP sits
// above entry and the SL below; mirrored for a sell.
func ComputeTargets(side common.Side, entry float64, leverage int, tpFrac, slFrac float64) (takeProfit, stopLoss float64) {
	tpDelta := tpFrac * float64(leverage)
	slDelta := slFrac * float64(leverage)
	if side == common.SideBuy {
		return entry * (1 + tpDelta), entry * (1 - slDelta)
	}
	return entry * (1 - tpDelta), entry * (1 + slDelta)
}
