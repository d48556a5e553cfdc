package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"strategy-runner/internal/backtest"
	"strategy-runner/internal/strategy"
	"strategy-runner/pkg/config"
	exspot "strategy-runner/pkg/exchanges/binance/spot"
	"strategy-runner/pkg/logger"
)

// backtest replays one strategy over Binance public klines and prints the report.
//
// Usage (from the repository root):
//   go run ./scripts/backtest -file strategies.yaml -id btc-grid -start 2024-01-01 -end 2024-03-01
//   go run ./scripts/backtest -kind momentum -symbol ETHUSDT -params '{"trade_quantity":0.1}' -start 2024-01-01
//
// Add -json to print the full report including trades and the equity curve.

func main() {
	var (
		file       = flag.String("file", "", "strategies YAML file to read the definition from")
		id         = flag.String("id", "", "strategy id inside -file")
		kind       = flag.String("kind", "", "grid, momentum or accumulation (ad-hoc run)")
		symbol     = flag.String("symbol", "BTCUSDT", "trading pair (ad-hoc run)")
		params     = flag.String("params", "{}", "JSON parameters (ad-hoc run)")
		startStr   = flag.String("start", "", "start date, YYYY-MM-DD or RFC3339")
		endStr     = flag.String("end", "", "end date, defaults to now")
		capital    = flag.Float64("capital", backtest.DefaultInitialCapital, "initial quote capital")
		commission = flag.Float64("commission", backtest.DefaultCommission, "commission rate per fill")
		asJSON     = flag.Bool("json", false, "print the full report as JSON")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	def, err := definition(*file, *id, *kind, *symbol, *params)
	if err != nil {
		fatal("%v", err)
	}
	start, err := parseDate(*startStr)
	if err != nil {
		fatal("start: %v", err)
	}
	end := time.Now().UTC()
	if *endStr != "" {
		if end, err = parseDate(*endStr); err != nil {
			fatal("end: %v", err)
		}
	}

	client := exspot.New(exspot.Config{Testnet: cfg.BinanceTestnet, BaseURL: cfg.BinanceBaseURL, Logger: log})
	engine := backtest.Engine{InitialCapital: *capital, Commission: *commission, Logger: log}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	report, err := engine.RunRange(ctx, client, def, start, end)
	if err != nil {
		log.Error("backtest failed", zap.String("symbol", def.Symbol), zap.Error(err))
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}
	printSummary(report)
}

func definition(file, id, kind, symbol, params string) (strategy.Config, error) {
	if file != "" {
		defs, err := strategy.LoadConfig(file)
		if err != nil {
			return strategy.Config{}, err
		}
		for _, d := range defs {
			if d.ID == id {
				return d, nil
			}
		}
		return strategy.Config{}, fmt.Errorf("strategy %q not found in %s", id, file)
	}
	k, err := strategy.ParseKind(kind)
	if err != nil {
		return strategy.Config{}, err
	}
	cfg := strategy.Config{
		ID:     "cli",
		Kind:   k,
		Symbol: strings.ToUpper(symbol),
		Params: json.RawMessage(params),
	}
	return cfg, strategy.Validate(cfg)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func printSummary(r *backtest.Report) {
	fmt.Printf("%s %s on %s bars (%d bars, %s → %s)\n",
		r.Kind, r.Symbol, r.Interval, r.Bars, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
	fmt.Printf("  initial capital : %.2f\n", r.InitialCapital)
	fmt.Printf("  final value     : %.2f\n", r.FinalValue)
	fmt.Printf("  pnl             : %.2f (%.2f%%)\n", r.PnL, r.PnLPercent)
	fmt.Printf("  trades          : %d\n", r.TotalTrades)
	fmt.Printf("  win rate        : %.2f%%\n", r.WinRate)
	fmt.Printf("  max drawdown    : %.2f%%\n", r.MaxDrawdownPercent)
	fmt.Printf("  final position  : %.8f\n", r.FinalPosition)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
