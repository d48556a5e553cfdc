// Package paper is an in-memory spot venue used for dry runs.
//
// Market orders fill immediately at the last known price with simulated
// slippage and fees. Limit orders lock funds and rest until a price update
// crosses them. When a MarketData source is configured, prices are pulled
// from it (throttled) before quoting, placing and status queries.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strategy-runner/pkg/exchanges/common"
)

// ErrUnreachable is returned by Ping after SetReachable(false).
var ErrUnreachable = errors.New("paper venue unreachable")

// MarketData supplies live prices and bars, e.g. a public Binance client.
type MarketData interface {
	common.KlineSource
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Config controls the simulation.
type Config struct {
	FeeRate      float64            // decimal, e.g. 0.001 = 10 bps
	SlippageBps  float64            // max adverse slippage on market fills
	Balances     map[string]float64 // initial free balance per asset
	Market       MarketData         // optional
	RefreshEvery time.Duration      // min spacing between price pulls per symbol
	Seed         int64              // slippage RNG seed; zero uses the clock
	Logger       *zap.Logger
}

// Gateway implements common.Gateway in memory.
type Gateway struct {
	cfg Config
	log *zap.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	prices      map[string]float64
	refreshedAt map[string]time.Time
	balances    map[string]*common.Balance
	orders      map[string]*restingOrder
	openIDs     []string // insertion order, for deterministic crossing
	reachable   bool
}

type restingOrder struct {
	order    common.Order
	reserved float64 // quote locked for buys, base locked for sells
}

var _ common.Gateway = (*Gateway)(nil)

// New creates a paper venue.
func New(cfg Config) *Gateway {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 2 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		cfg:         cfg,
		log:         log.With(zap.String("venue", "paper")),
		rng:         rand.New(rand.NewSource(seed)),
		prices:      make(map[string]float64),
		refreshedAt: make(map[string]time.Time),
		balances:    make(map[string]*common.Balance),
		orders:      make(map[string]*restingOrder),
		reachable:   true,
	}
	for asset, amt := range cfg.Balances {
		a := strings.ToUpper(asset)
		g.balances[a] = &common.Balance{Asset: a, Free: amt}
	}
	return g
}

// SetReachable toggles Ping failures.
func (g *Gateway) SetReachable(ok bool) {
	g.mu.Lock()
	g.reachable = ok
	g.mu.Unlock()
}

// Ping fails only when the venue was marked unreachable.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.reachable {
		return ErrUnreachable
	}
	return nil
}

// SetPrice records a trade price and fills every resting order it crosses.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setPriceLocked(strings.ToUpper(symbol), price)
}

func (g *Gateway) setPriceLocked(symbol string, price float64) {
	if price <= 0 {
		return
	}
	g.prices[symbol] = price

	remaining := g.openIDs[:0]
	for _, id := range g.openIDs {
		ro, ok := g.orders[id]
		if !ok || ro.order.Status.Terminal() {
			continue
		}
		o := ro.order
		crossed := o.Symbol == symbol &&
			((o.Side == common.SideBuy && price <= o.Price) ||
				(o.Side == common.SideSell && price >= o.Price))
		if crossed {
			g.fillRestingLocked(ro)
			continue
		}
		remaining = append(remaining, id)
	}
	g.openIDs = remaining
}

// refresh pulls a live price when a source is configured and the cached one is stale.
func (g *Gateway) refresh(ctx context.Context, symbol string) {
	if g.cfg.Market == nil {
		return
	}
	g.mu.Lock()
	fresh := time.Since(g.refreshedAt[symbol]) < g.cfg.RefreshEvery
	g.mu.Unlock()
	if fresh {
		return
	}

	price, err := g.cfg.Market.GetPrice(ctx, symbol)
	if err != nil {
		g.log.Warn("price refresh failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	g.mu.Lock()
	g.refreshedAt[symbol] = time.Now()
	g.setPriceLocked(symbol, price)
	g.mu.Unlock()
}

// GetPrice returns the last known price.
func (g *Gateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)
	g.refresh(ctx, symbol)

	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", common.ErrNoPrice, symbol)
	}
	return p, nil
}

// GetKlines delegates to the configured market data source.
func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]common.Kline, error) {
	if g.cfg.Market == nil {
		return nil, errors.New("paper: no kline source configured")
	}
	return g.cfg.Market.GetKlines(ctx, symbol, interval, start, end, limit)
}

// GetBalance returns a copy of the asset balance; unknown assets are zero.
func (g *Gateway) GetBalance(_ context.Context, asset string) (common.Balance, error) {
	asset = strings.ToUpper(asset)
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.balances[asset]; ok {
		return *b, nil
	}
	return common.Balance{Asset: asset}, nil
}

// PlaceOrder simulates a MARKET or LIMIT order.
func (g *Gateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if err := common.ValidateRequest(req); err != nil {
		return common.Order{}, err
	}
	req.Symbol = strings.ToUpper(req.Symbol)
	if _, _, ok := common.SplitSymbol(req.Symbol); !ok {
		return common.Order{}, fmt.Errorf("paper: cannot split symbol %q", req.Symbol)
	}
	g.refresh(ctx, req.Symbol)

	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.prices[req.Symbol]
	if !ok && req.Type == common.OrderTypeMarket {
		return common.Order{}, fmt.Errorf("%w: %s", common.ErrNoPrice, req.Symbol)
	}

	o := common.Order{
		ID:        uuid.NewString(),
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Qty:       req.Qty,
		Status:    common.StatusNew,
		UpdatedAt: time.Now(),
	}

	if req.Type == common.OrderTypeMarket {
		fillPrice := g.slip(last, req.Side)
		qty := req.Qty
		if qty <= 0 {
			qty = req.QuoteQty / fillPrice
		}
		o.Qty = qty
		if err := g.settleLocked(&o, qty, fillPrice); err != nil {
			return common.Order{}, err
		}
		g.orders[o.ID] = &restingOrder{order: o}
		return o, nil
	}

	ro := &restingOrder{order: o}
	if err := g.reserveLocked(ro); err != nil {
		return common.Order{}, err
	}
	g.orders[o.ID] = ro

	marketable := ok && ((req.Side == common.SideBuy && last <= req.Price) ||
		(req.Side == common.SideSell && last >= req.Price))
	if marketable {
		g.fillRestingLocked(ro)
	} else {
		g.openIDs = append(g.openIDs, o.ID)
	}
	return ro.order, nil
}

// CancelOrder releases the reservation of a resting order.
func (g *Gateway) CancelOrder(_ context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ro, ok := g.orders[orderID]
	if !ok || ro.order.Symbol != strings.ToUpper(symbol) || ro.order.Status.Terminal() {
		return fmt.Errorf("%w: %s", common.ErrOrderNotFound, orderID)
	}
	base, quote, _ := common.SplitSymbol(ro.order.Symbol)
	if ro.order.Side == common.SideBuy {
		b := g.balanceLocked(quote)
		b.Locked -= ro.reserved
		b.Free += ro.reserved
	} else {
		b := g.balanceLocked(base)
		b.Locked -= ro.reserved
		b.Free += ro.reserved
	}
	ro.reserved = 0
	ro.order.Status = common.StatusCanceled
	ro.order.UpdatedAt = time.Now()
	return nil
}

// GetOrder returns the current view of an order.
func (g *Gateway) GetOrder(ctx context.Context, symbol, orderID string) (common.Order, error) {
	g.refresh(ctx, strings.ToUpper(symbol))

	g.mu.Lock()
	defer g.mu.Unlock()
	ro, ok := g.orders[orderID]
	if !ok || ro.order.Symbol != strings.ToUpper(symbol) {
		return common.Order{}, fmt.Errorf("%w: %s", common.ErrOrderNotFound, orderID)
	}
	return ro.order, nil
}

// GetOpenOrders lists resting orders for symbol, or all symbols when empty.
func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	symbol = strings.ToUpper(symbol)
	if symbol != "" {
		g.refresh(ctx, symbol)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	var out []common.Order
	for _, id := range g.openIDs {
		ro := g.orders[id]
		if ro == nil || ro.order.Status.Terminal() {
			continue
		}
		if symbol == "" || ro.order.Symbol == symbol {
			out = append(out, ro.order)
		}
	}
	return out, nil
}

func (g *Gateway) slip(price float64, side common.Side) float64 {
	frac := g.cfg.SlippageBps / 10000.0
	if frac <= 0 {
		return price
	}
	noise := g.rng.Float64() * frac
	if side == common.SideBuy {
		return price * (1 + noise)
	}
	return price * (1 - noise)
}

func (g *Gateway) balanceLocked(asset string) *common.Balance {
	b, ok := g.balances[asset]
	if !ok {
		b = &common.Balance{Asset: asset}
		g.balances[asset] = b
	}
	return b
}

// settleLocked moves free balances for an immediate fill.
func (g *Gateway) settleLocked(o *common.Order, qty, price float64) error {
	base, quote, _ := common.SplitSymbol(o.Symbol)
	notional := qty * price
	fee := notional * g.cfg.FeeRate

	bq, bb := g.balanceLocked(quote), g.balanceLocked(base)
	if o.Side == common.SideBuy {
		if bq.Free < notional+fee {
			return fmt.Errorf("%w: need %.8f %s, have %.8f", common.ErrInsufficientBalance, notional+fee, quote, bq.Free)
		}
		bq.Free -= notional + fee
		bb.Free += qty
	} else {
		if bb.Free < qty {
			return fmt.Errorf("%w: need %.8f %s, have %.8f", common.ErrInsufficientBalance, qty, base, bb.Free)
		}
		bb.Free -= qty
		bq.Free += notional - fee
	}
	g.markFilled(o, qty, price, fee, quote)
	return nil
}

// reserveLocked locks the funds a resting limit order needs.
func (g *Gateway) reserveLocked(ro *restingOrder) error {
	base, quote, _ := common.SplitSymbol(ro.order.Symbol)
	o := ro.order
	if o.Side == common.SideBuy {
		need := o.Qty * o.Price * (1 + g.cfg.FeeRate)
		b := g.balanceLocked(quote)
		if b.Free < need {
			return fmt.Errorf("%w: need %.8f %s, have %.8f", common.ErrInsufficientBalance, need, quote, b.Free)
		}
		b.Free -= need
		b.Locked += need
		ro.reserved = need
		return nil
	}
	b := g.balanceLocked(base)
	if b.Free < o.Qty {
		return fmt.Errorf("%w: need %.8f %s, have %.8f", common.ErrInsufficientBalance, o.Qty, base, b.Free)
	}
	b.Free -= o.Qty
	b.Locked += o.Qty
	ro.reserved = o.Qty
	return nil
}

// fillRestingLocked fills a reserved limit order at its limit price.
func (g *Gateway) fillRestingLocked(ro *restingOrder) {
	base, quote, _ := common.SplitSymbol(ro.order.Symbol)
	o := &ro.order
	notional := o.Qty * o.Price
	fee := notional * g.cfg.FeeRate

	bq, bb := g.balanceLocked(quote), g.balanceLocked(base)
	if o.Side == common.SideBuy {
		bq.Locked -= ro.reserved
		bq.Free += ro.reserved - notional - fee
		bb.Free += o.Qty
	} else {
		bb.Locked -= ro.reserved
		bq.Free += notional - fee
	}
	ro.reserved = 0
	g.markFilled(o, o.Qty, o.Price, fee, quote)
	g.log.Debug("limit order filled",
		zap.String("order_id", o.ID),
		zap.String("side", string(o.Side)),
		zap.Float64("price", o.Price),
		zap.Float64("qty", o.Qty))
}

func (g *Gateway) markFilled(o *common.Order, qty, price, fee float64, feeAsset string) {
	o.ExecutedQty = qty
	o.CumQuote = qty * price
	o.Status = common.StatusFilled
	o.UpdatedAt = time.Now()
	o.Fills = []common.Fill{{
		TradeID:         uuid.NewString(),
		Price:           price,
		Qty:             qty,
		Commission:      fee,
		CommissionAsset: feeAsset,
	}}
}
