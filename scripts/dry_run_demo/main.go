package main

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"time"

	"strategy-runner/internal/events"
	"strategy-runner/internal/recorder"
	"strategy-runner/internal/strategy"
	"strategy-runner/internal/supervisor"
	"strategy-runner/pkg/config"
	"strategy-runner/pkg/db"
	"strategy-runner/pkg/exchanges/paper"
	"strategy-runner/pkg/logger"
)

// dry_run_demo runs a grid and an accumulation strategy against the in-memory
// paper venue while a random walk moves the price. It does not touch the
// exchange; fills are recorded in an in-memory database.
//
// Usage:
//
//	go run ./scripts/dry_run_demo
//
// It will:
//  1. Start a 5-level grid around 100 and a DCA buying 50 USDT every 3s.
//  2. Walk the BTCUSDT price for ~20s, printing fills as they are recorded.
//  3. Stop both strategies and print their final status and balances.

const symbol = "BTCUSDT"

func main() {
	log.Println("=== DRY-RUN demo starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	initialBalance := cfg.DryRunInitialBalance
	if initialBalance <= 0 {
		initialBalance = 10000
	}

	zl := logger.New(logger.Options{Level: "warn", Format: "console"})
	defer func() { _ = zl.Sync() }()

	venue := paper.New(paper.Config{
		FeeRate:     cfg.DryRunFeeRate,
		SlippageBps: cfg.DryRunSlippageBps,
		Balances:    map[string]float64{cfg.DryRunQuoteAsset: initialBalance},
		Logger:      zl,
	})
	venue.SetPrice(symbol, 100)

	bus := events.NewBus()
	fills, unsubscribe := bus.Subscribe(64, events.EventTradeRecorded, events.EventStrategyFailed)
	defer unsubscribe()

	database, err := db.Open(context.Background(), ":memory:")
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	rec := recorder.NewSQL(database, bus, zl)
	defer rec.Close()

	sup := supervisor.New(supervisor.Options{
		Gateway:  venue,
		Recorder: rec,
		Bus:      bus,
		Logger:   zl,
		Strategy: strategy.Options{
			StopGrace:  3 * time.Second,
			SleepSlice: 200 * time.Millisecond,
		},
	})
	must(sup.Register(strategy.Config{
		ID: "demo-grid", Name: "Demo grid", Kind: strategy.KindGrid, Symbol: symbol, Active: true,
		Params: raw(map[string]any{
			"lower_bound": 90, "upper_bound": 110, "num_grids": 5,
			"investment_amount": 1000, "poll_seconds": 1,
		}),
	}))
	must(sup.Register(strategy.Config{
		ID: "demo-dca", Name: "Demo DCA", Kind: strategy.KindAccumulation, Symbol: symbol, Active: true,
		Params: raw(map[string]any{"purchase_amount_quote": 50, "purchase_interval_seconds": 3}),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	sup.StartActive(ctx)

	go func() {
		for msg := range fills {
			if msg.Type == events.EventStrategyFailed {
				log.Printf("[FAILED] %+v", msg.Data)
				continue
			}
			log.Printf("[FILL] %+v", msg.Data)
		}
	}()

	log.Printf("[WALK] random walk on %s from 100", symbol)
	rng := rand.New(rand.NewSource(42))
	price := 100.0
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
walk:
	for {
		select {
		case <-ctx.Done():
			break walk
		case <-tick.C:
			price *= 1 + (rng.Float64()-0.5)*0.04
			venue.SetPrice(symbol, price)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	sup.Shutdown(stopCtx)

	log.Println("[RESULT] final strategy status:")
	statuses, err := sup.List(stopCtx)
	if err != nil {
		log.Fatalf("list strategies: %v", err)
	}
	for _, st := range statuses {
		log.Printf("  %s kind=%s trades=%d position=%.6f realized=%.4f err=%q",
			st.ID, st.Kind, st.Trades, st.Position, st.RealizedPnL, st.LastError)
	}
	for _, asset := range []string{cfg.DryRunQuoteAsset, "BTC"} {
		bal, err := venue.GetBalance(stopCtx, asset)
		if err != nil {
			log.Printf("  balance %s: %v", asset, err)
			continue
		}
		log.Printf("  balance %s free=%.6f locked=%.6f", asset, bal.Free, bal.Locked)
	}
	log.Printf("[RESULT] last price=%.4f", price)
	log.Println("=== DRY-RUN demo finished ===")
}

func raw(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Fatalf("marshal params: %v", err)
	}
	return b
}

func must(err error) {
	if err != nil {
		log.Fatalf("register strategy: %v", err)
	}
}
