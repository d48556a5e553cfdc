package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"strategy-runner/internal/api"
	"strategy-runner/internal/backtest"
	"strategy-runner/internal/events"
	"strategy-runner/internal/monitor"
	"strategy-runner/internal/recorder"
	"strategy-runner/internal/strategy"
	"strategy-runner/internal/supervisor"
	"strategy-runner/pkg/config"
	"strategy-runner/pkg/db"
	exspot "strategy-runner/pkg/exchanges/binance/spot"
	exchange "strategy-runner/pkg/exchanges/common"
	"strategy-runner/pkg/exchanges/paper"
	"strategy-runner/pkg/logger"
)

var version = "dev"

func main() {
	issueFor := flag.String("token", "", "print a bearer token for this user id and exit")
	tokenTTL := flag.Duration("token-ttl", 72*time.Hour, "lifetime of a token printed by -token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *issueFor != "" {
		tok, err := api.IssueToken(*issueFor, cfg.JWTSecret, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("strategy runner exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting strategy runner",
		zap.String("version", version),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("db_path", cfg.DBPath))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := syncStrategyFile(ctx, cfg.StrategiesFile, database, log); err != nil {
		return err
	}

	gateway, klines := buildGateway(ctx, cfg, log)

	bus := events.NewBus()
	rec := recorder.NewSQL(database, bus, log)
	defer func() {
		if err := rec.Close(); err != nil {
			log.Warn("recorder close failed", zap.Error(err))
		}
	}()

	metrics := monitor.NewSystemMetrics(bus.Dropped)
	metrics.ObserveSnapshotWriter(rec.WriterMetrics)
	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, Sink: monitor.LogSink{Logger: log}, Logger: log}
	monDone := mon.Start(ctx)

	sup := supervisor.New(supervisor.Options{
		Source:   supervisor.NewDBSource(database),
		Gateway:  gateway,
		Recorder: rec,
		Bus:      bus,
		Logger:   log,
		Strategy: strategy.Options{
			StopGrace:        cfg.StopGrace,
			SnapshotInterval: cfg.SnapshotInterval,
		},
	})
	if err := sup.Load(ctx); err != nil {
		return err
	}
	if cfg.AutoStart {
		sup.StartActive(ctx)
	}

	if cfg.AuthDisabled {
		log.Warn("API authentication disabled")
	}
	server := api.NewServer(api.Options{
		Bus:            bus,
		Strategies:     sup,
		Klines:         klines,
		Backtest:       backtest.Engine{Logger: log},
		Metrics:        metrics,
		Logger:         log,
		JWTSecret:      cfg.JWTSecret,
		AuthDisabled:   cfg.AuthDisabled,
		RatePerSec:     cfg.APIRatePerSec,
		RateBurst:      cfg.APIRateBurst,
		RequestTimeout: cfg.RequestTimeout,
		Version:        version,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("api server failed", zap.Error(err))
		}
	}

	// Strategies get their grace period plus the abort wait; HTTP drains in parallel.
	grace := cfg.StopGrace + 5*time.Second
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), grace)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	sup.Shutdown(shutdownCtx)
	cancel()
	<-monDone
	log.Info("shutdown complete")
	return nil
}

// syncStrategyFile upserts the YAML definitions into the database. A missing
// file is not an error; the database keeps whatever it already has.
func syncStrategyFile(ctx context.Context, path string, database *db.Database, log *zap.Logger) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn("strategies file not found, using stored definitions", zap.String("path", path))
		return nil
	}
	defs, err := strategy.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load strategies file: %w", err)
	}
	if err := strategy.SyncConfigToDB(ctx, database, defs); err != nil {
		return fmt.Errorf("sync strategies: %w", err)
	}
	log.Info("strategies synced", zap.String("path", path), zap.Int("count", len(defs)))
	return nil
}

// buildGateway returns the trading venue and the source of historical bars.
// Dry runs trade against the paper venue priced from Binance public data.
func buildGateway(ctx context.Context, cfg *config.Config, log *zap.Logger) (exchange.Gateway, exchange.KlineSource) {
	client := exspot.New(exspot.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
		BaseURL:   cfg.BinanceBaseURL,
		Logger:    log,
	})

	if cfg.DryRun {
		log.Info("dry run: using paper venue",
			zap.Float64("initial_balance", cfg.DryRunInitialBalance),
			zap.String("quote_asset", cfg.DryRunQuoteAsset))
		gw := paper.New(paper.Config{
			FeeRate:     cfg.DryRunFeeRate,
			SlippageBps: cfg.DryRunSlippageBps,
			Balances:    map[string]float64{cfg.DryRunQuoteAsset: cfg.DryRunInitialBalance},
			Market:      client,
			Logger:      log,
		})
		return gw, client
	}

	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Warn("live trading without Binance credentials; signed calls will fail")
	}
	client.StartTimeSync(ctx)
	return client, client
}
