package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tradepilot/internal/api"
	"tradepilot/internal/credentials"
	"tradepilot/internal/events"
	"tradepilot/internal/gateway"
	"tradepilot/internal/marketdata"
	"tradepilot/internal/monitor"
	"tradepilot/internal/orchestrator"
	"tradepilot/internal/rules"
	"tradepilot/internal/scheduler"
	signalstore "tradepilot/internal/signal"
	"tradepilot/internal/trade"
	"tradepilot/pkg/config"
	"tradepilot/pkg/crypto"
	"tradepilot/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting trading core on port %s", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("database migrations failed: %v", err)
	}

	keyMgr, err := crypto.NewKeyManager()
	if err != nil {
		log.Fatalf("credential key manager init failed: %v", err)
	}

	// Stores and resolvers
	signals := signalstore.NewStore(database.DB)
	trades := trade.NewStore(database.DB)
	resolver := credentials.NewResolver(database.DB, keyMgr)

	// Exchange gateways with shared per-venue rate limits
	gateways := gateway.NewFactory(cfg.ExchangeRPS, cfg.ExchangeTimeout)

	// Rule engine
	thresholds, err := rules.LoadThresholds(cfg.RulesConfigPath)
	if err != nil {
		log.Fatalf("rules config load failed: %v", err)
	}
	engine := rules.NewEngine(thresholds)

	// Macro market context
	market := marketdata.NewProvider(cfg.FearGreedURL, cfg.FearGreedAPIKey, "", cfg.ExchangeTimeout)

	// Order execution
	executor := orchestrator.New(orchestrator.Config{
		MaxOpenTrades:  cfg.MaxOpenTrades,
		AllocationFrac: cfg.AllocationFrac,
		TakeProfitFrac: cfg.TakeProfitFrac,
		StopLossFrac:   cfg.StopLossFrac,
		QuoteAsset:     cfg.QuoteAsset,
		WorkerLimit:    cfg.WorkerLimit,
	}, trades, resolver, gateways, bus)

	// Background loops
	sched := scheduler.New(scheduler.Config{
		Interval:    cfg.EvalInterval,
		BatchBudget: cfg.BatchBudget,
	}, signals, trades, resolver, market, engine, executor)
	sched.Start(ctx)

	mon := monitor.New(trades, resolver, gateways, bus, cfg.MonitorInterval, cfg.ExchangeTimeout)
	mon.Start(ctx)

	// API
	server := api.NewServer(bus, database, signals, trades, resolver, cfg.JWTSecret)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}
