// Package scheduler drives the periodic evaluation cycle: fetch macro
// context, match latest signals against the rule engine for every user with
// credentials, and hand the resulting attempts to the orchestrator.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"tradepilot/internal/credentials"
	"tradepilot/internal/marketdata"
	"tradepilot/internal/orchestrator"
	"tradepilot/internal/rules"
	"tradepilot/internal/signal"
	"tradepilot/internal/trade"
)

// Config controls cycle timing.
type Config struct {
	Interval     time.Duration // gap between evaluation cycles
	BatchBudget  time.Duration // admission window for each batch
	SignalWindow time.Duration // how far back a signal still counts as live
}

// Scheduler owns the evaluation loop. It is constructed with its
// dependencies and holds no package-level state.
type Scheduler struct {
	cfg      Config
	signals  *signal.Store
	trades   *trade.Store
	resolver *credentials.Resolver
	market   *marketdata.Provider
	engine   *rules.Engine
	executor *orchestrator.Orchestrator
}

// New creates a scheduler.
func New(cfg Config, signals *signal.Store, trades *trade.Store, resolver *credentials.Resolver, market *marketdata.Provider, engine *rules.Engine, executor *orchestrator.Orchestrator) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchBudget <= 0 {
		cfg.BatchBudget = 2 * time.Minute
	}
	if cfg.SignalWindow <= 0 {
		cfg.SignalWindow = 15 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		signals:  signals,
		trades:   trades,
		resolver: resolver,
		market:   market,
		engine:   engine,
		executor: executor,
	}
}

// Start launches the evaluation loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunCycle(ctx)
			}
		}
	}()
}

// RunCycle performs one full evaluation pass. Macro data is fetched once and
// shared across every user and symbol in the cycle; if it cannot be fetched
// the whole cycle is skipped rather than evaluated against stale numbers.
func (s *Scheduler) RunCycle(ctx context.Context) []orchestrator.Result {
	started := time.Now()

	macro, err := s.market.MacroContext(ctx)
	if err != nil {
		if errors.Is(err, marketdata.ErrDataUnavailable) {
			log.Printf("warn: scheduler: market data unavailable, skipping cycle: %v", err)
			return nil
		}
		log.Printf("scheduler: macro context: %v", err)
		return nil
	}

	attempts, err := s.collectAttempts(ctx, macro)
	if err != nil {
		log.Printf("scheduler: collect attempts: %v", err)
		return nil
	}
	if len(attempts) == 0 {
		return nil
	}

	log.Printf("scheduler: dispatching %d attempts", len(attempts))
	results := s.executor.RunBatch(ctx, attempts, s.cfg.BatchBudget)
	log.Printf("scheduler: cycle finished in %s (%d results)", time.Since(started).Round(time.Millisecond), len(results))
	return results
}

func (s *Scheduler) collectAttempts(ctx context.Context, macro rules.Context) ([]orchestrator.Attempt, error) {
	symbols, err := s.signals.ActiveSymbols(ctx, s.cfg.SignalWindow)
	if err != nil {
		return nil, err
	}
	users, err := s.resolver.UsersWithCredentials(ctx)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 || len(users) == 0 {
		return nil, nil
	}

	var attempts []orchestrator.Attempt
	for _, symbol := range symbols {
		sig, err := s.signals.LatestBySymbol(ctx, symbol)
		if err != nil {
			if errors.Is(err, signal.ErrNotFound) {
				continue
			}
			return nil, err
		}

		for _, userID := range users {
			openCount, err := s.trades.CountOpen(ctx, userID)
			if err != nil {
				return nil, err
			}
			dir, ok := s.pickDirection(sig, macro, openCount)
			if !ok {
				continue
			}
			attempts = append(attempts, orchestrator.Attempt{
				UserID:    userID,
				Symbol:    symbol,
				Direction: dir,
				Leverage:  sig.Leverage,
			})
		}
	}
	return attempts, nil
}

// pickDirection evaluates both directions for one signal. Long wins when
// both somehow pass; the gates are mutually exclusive on the EMA cross so in
// practice at most one fires.
func (s *Scheduler) pickDirection(sig signal.Signal, macro rules.Context, openCount int) (rules.Direction, bool) {
	if s.engine.Evaluate(rules.DirectionLong, sig, macro, openCount) {
		return rules.DirectionLong, true
	}
	if s.engine.Evaluate(rules.DirectionShort, sig, macro, openCount) {
		return rules.DirectionShort, true
	}
	return "", false
}
