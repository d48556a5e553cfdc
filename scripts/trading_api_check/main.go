package main

import (
	"context"
	"log"
	"os"
	"time"

	"strategy-runner/pkg/config"
	exspot "strategy-runner/pkg/exchanges/binance/spot"
	exchange "strategy-runner/pkg/exchanges/common"
)

// trading_api_check exercises the wrapped Binance spot API end to end.
//
// Usage (start with an empty or tiny account):
//
//	go run ./scripts/trading_api_check
//
// Environment (same as the runner):
//
//	BINANCE_API_KEY / BINANCE_API_SECRET   signed checks are skipped when empty
//	BINANCE_TESTNET                        use the spot testnet
//
// Behaviour:
//
//	TRADING_CHECK_PLACE_ORDERS  (default "false") places a far-from-market
//	                            LIMIT BUY and cancels it again
//	CHECK_SPOT_SYMBOL           (default "BTCUSDT")
//	CHECK_QUOTE_ASSET           (default "USDT")

func main() {
	log.Println("=== Trading API check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	placeOrders := getenv("TRADING_CHECK_PLACE_ORDERS", "false") == "true"
	symbol := getenv("CHECK_SPOT_SYMBOL", "BTCUSDT")
	quote := getenv("CHECK_QUOTE_ASSET", "USDT")
	log.Printf("Config: testnet=%v placeOrders=%v symbol=%s", cfg.BinanceTestnet, placeOrders, symbol)

	client := exspot.New(exspot.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
		BaseURL:   cfg.BinanceBaseURL,
	})

	price := checkPublic(client, symbol)

	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Println("[SPOT] BINANCE_API_KEY/SECRET empty, skipping signed checks")
		log.Println("=== Trading API check finished ===")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.StartTimeSync(ctx)

	checkSigned(client, symbol, quote, price, placeOrders)
	log.Println("=== Trading API check finished ===")
}

func checkPublic(c *exspot.Client, symbol string) float64 {
	log.Println("---- [SPOT] Public endpoints ----")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		log.Printf("[SPOT] Ping error: %v", err)
	} else {
		log.Println("[SPOT] Ping OK")
	}

	if ts, err := c.ServerTime(ctx); err != nil {
		log.Printf("[SPOT] ServerTime error: %v", err)
	} else {
		skew := time.Since(time.UnixMilli(ts))
		log.Printf("[SPOT] ServerTime=%s local skew=%s", time.UnixMilli(ts).UTC().Format(time.RFC3339), skew)
	}

	price, err := c.GetPrice(ctx, symbol)
	if err != nil {
		log.Printf("[SPOT] GetPrice error: %v", err)
	} else {
		log.Printf("[SPOT] %s last price=%f", symbol, price)
	}

	end := time.Now()
	bars, err := c.GetKlines(ctx, symbol, "1h", end.Add(-24*time.Hour), end, 0)
	if err != nil {
		log.Printf("[SPOT] GetKlines error: %v", err)
	} else {
		log.Printf("[SPOT] %s 1h bars over last 24h: %d", symbol, len(bars))
	}
	return price
}

func checkSigned(c *exspot.Client, symbol, quote string, price float64, placeOrders bool) {
	log.Println("---- [SPOT] Signed endpoints ----")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bal, err := c.GetBalance(ctx, quote)
	if err != nil {
		log.Printf("[SPOT] GetBalance error: %v", err)
	} else {
		log.Printf("[SPOT] %s free=%f locked=%f", quote, bal.Free, bal.Locked)
	}

	open, err := c.GetOpenOrders(ctx, symbol)
	if err != nil {
		log.Printf("[SPOT] GetOpenOrders error: %v", err)
	} else {
		log.Printf("[SPOT] Open orders for %s: %d", symbol, len(open))
	}

	if !placeOrders {
		log.Println("[SPOT] Skip placing/canceling orders (TRADING_CHECK_PLACE_ORDERS=false)")
		return
	}
	if price <= 0 {
		log.Println("[SPOT] No reference price, skipping order checks")
		return
	}

	// Half the market price so the order rests and can be cancelled.
	limit := price * 0.5
	req := exchange.OrderRequest{
		Symbol:      symbol,
		Side:        exchange.SideBuy,
		Type:        exchange.OrderTypeLimit,
		Price:       limit,
		Qty:         12 / limit,
		TimeInForce: exchange.TIFGTC,
	}
	log.Printf("[SPOT] Submitting test LIMIT BUY %s qty=%f price=%f", symbol, req.Qty, req.Price)
	ord, err := c.PlaceOrder(ctx, req)
	if err != nil {
		log.Printf("[SPOT] PlaceOrder returned error (acceptable for test, e.g. insufficient balance): %v", err)
		return
	}
	log.Printf("[SPOT] PlaceOrder OK id=%s status=%s", ord.ID, ord.Status)

	if got, err := c.GetOrder(ctx, symbol, ord.ID); err != nil {
		log.Printf("[SPOT] GetOrder error: %v", err)
	} else {
		log.Printf("[SPOT] GetOrder status=%s executed=%f", got.Status, got.ExecutedQty)
	}

	if err := c.CancelOrder(ctx, symbol, ord.ID); err != nil {
		log.Printf("[SPOT] CancelOrder error (may be filled already): %v", err)
	} else {
		log.Println("[SPOT] CancelOrder OK")
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
