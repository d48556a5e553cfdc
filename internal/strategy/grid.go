package strategy

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strategy-runner/internal/grid"
	"strategy-runner/pkg/exchanges/common"
)

// trackedOrder is a resting grid order the loop believes is open.
type trackedOrder struct {
	Price   float64
	Qty     float64
	Side    common.Side
	Applied float64 // executed quantity already booked
}

// Grid keeps limit orders resting on a price ladder and mirrors every fill
// with a counter order one level away.
type Grid struct {
	*base
	store *paramStore[GridParams]

	levels  []float64
	tracked map[string]trackedOrder
	pending []trackedOrder // counter orders whose placement failed; retried each poll

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func newGrid(cfg Config, deps Deps) (*Grid, error) {
	p, err := decodeParams(defaultGridParams(), cfg.Params)
	if err != nil {
		return nil, err
	}
	g := &Grid{
		base:     newBase(cfg, deps),
		store:    newParamStore(p),
		tracked:  make(map[string]trackedOrder),
		inflight: make(map[string]struct{}),
	}
	g.impl = g
	return g, nil
}

func (g *Grid) params() any { return g.store.load() }

func (g *Grid) updateParams(partial map[string]any) (any, error) {
	return g.store.update(partial)
}

// Levels returns the ladder computed at the last setup.
func (g *Grid) Levels() []float64 {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return append([]float64(nil), g.levels...)
}

// PendingCount is the number of counter orders waiting to be placed again.
func (g *Grid) PendingCount() int {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return len(g.pending)
}

// TrackedCount is the number of orders the loop believes are open.
func (g *Grid) TrackedCount() int {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return len(g.tracked)
}

func (g *Grid) run(ctl *loopCtl) error {
	defer g.teardown(ctl.io)

	for {
		p := g.store.load()
		err := g.setup(ctl.io, p)
		if err == nil {
			break
		}
		g.log.Error("grid setup failed, retrying", zap.Error(err))
		if !ctl.sleep(pollPeriod(p)) {
			return nil
		}
	}

	for !ctl.stopped() {
		p := g.store.load()
		g.poll(ctl.io)
		if price, err := g.deps.Gateway.GetPrice(ctl.io, g.cfg.Symbol); err == nil {
			g.maybeSnapshot(ctl.io, price)
		}
		if !ctl.sleep(pollPeriod(p)) {
			break
		}
	}
	return nil
}

func pollPeriod(p GridParams) time.Duration {
	return time.Duration(p.PollSeconds) * time.Second
}

// setup reconciles the venue with an empty tracking map and lays the ladder.
func (g *Grid) setup(ctx context.Context, p GridParams) error {
	g.cancelOpenOrders(ctx)
	g.setTracked(make(map[string]trackedOrder))
	g.setPending(nil)

	price, err := g.deps.Gateway.GetPrice(ctx, g.cfg.Symbol)
	if err != nil {
		return err
	}
	mode, err := grid.ParseMode(p.GridMode)
	if err != nil {
		return err
	}
	levels, err := grid.Levels(p.LowerBound, p.UpperBound, p.NumGrids, mode)
	if err != nil {
		return err
	}
	g.stateMu.Lock()
	g.levels = levels
	g.stateMu.Unlock()
	g.log.Info("grid levels computed", zap.Float64s("levels", levels), zap.Float64("price", price))

	buys := grid.BuyOrders(levels, price, p.InvestmentAmount)
	if len(buys) == 0 {
		g.log.Warn("no grid level below current price; no buy orders placed", zap.Float64("price", price))
	}
	for _, o := range buys {
		g.placeLimit(ctx, common.SideBuy, o.Price, o.Qty)
	}

	if p.SeedSells {
		g.seedSells(ctx, levels, price)
	}
	return nil
}

func (g *Grid) seedSells(ctx context.Context, levels []float64, price float64) {
	baseAsset, _, ok := common.SplitSymbol(g.cfg.Symbol)
	if !ok {
		g.log.Warn("cannot derive base asset for seed sells")
		return
	}
	bal, err := g.deps.Gateway.GetBalance(ctx, baseAsset)
	if err != nil {
		g.log.Warn("seed sells skipped, balance unavailable", zap.Error(err))
		return
	}
	for _, o := range grid.SellOrders(levels, price, bal.Free) {
		g.placeLimit(ctx, common.SideSell, o.Price, o.Qty)
	}
}

// placeLimit submits and tracks a resting order. It reports false only when
// the submission itself failed; a venue rejection counts as handled.
func (g *Grid) placeLimit(ctx context.Context, side common.Side, price, qty float64) bool {
	o := g.placeOrder(ctx, common.OrderRequest{
		Side:        side,
		Type:        common.OrderTypeLimit,
		Qty:         qty,
		Price:       price,
		TimeInForce: common.TIFGTC,
		ClientID:    "grid" + strings.ReplaceAll(uuid.NewString(), "-", "")[:28],
	})
	if o == nil {
		return false
	}
	if o.ID == "" {
		return true
	}
	switch o.Status {
	case common.StatusCanceled, common.StatusExpired, common.StatusRejected:
		g.log.Warn("grid order not accepted", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
		return true
	}
	g.stateMu.Lock()
	g.tracked[o.ID] = trackedOrder{Price: price, Qty: qty, Side: side, Applied: o.ExecutedQty}
	g.stateMu.Unlock()
	return true
}

// poll retries pending counter orders, then checks every tracked order once.
func (g *Grid) poll(ctx context.Context) {
	g.retryPending(ctx)
	for _, id := range g.trackedIDs() {
		if ctx.Err() != nil {
			return
		}
		if !g.claim(id) {
			continue
		}
		g.checkOrder(ctx, id)
		g.release(id)
	}
}

func (g *Grid) checkOrder(ctx context.Context, id string) {
	g.stateMu.RLock()
	t, ok := g.tracked[id]
	g.stateMu.RUnlock()
	if !ok {
		return
	}

	o, err := g.deps.Gateway.GetOrder(ctx, g.cfg.Symbol, id)
	if err != nil {
		if errors.Is(err, common.ErrOrderNotFound) {
			g.log.Warn("tracked order unknown to venue, untracking", zap.String("order_id", id))
			g.untrack(id)
			return
		}
		g.log.Warn("order status query failed", zap.String("order_id", id), zap.Error(err))
		return
	}

	switch o.Status {
	case common.StatusFilled:
		g.untrack(id)
		if o.Side == "" {
			o.Side = t.Side
		}
		if delta := o.ExecutedQty - t.Applied; delta > 0 {
			g.applyFill(ctx, o, delta)
		}
		filled := o.ExecutedQty
		if filled <= 0 {
			filled = t.Qty
		}
		g.placeCounter(ctx, t, filled)
	case common.StatusCanceled, common.StatusExpired, common.StatusRejected:
		g.log.Info("grid order closed without fill", zap.String("order_id", id), zap.String("status", string(o.Status)))
		g.untrack(id)
		if delta := o.ExecutedQty - t.Applied; delta > 0 {
			if o.Side == "" {
				o.Side = t.Side
			}
			g.applyFill(ctx, o, delta)
		}
	}
}

// placeCounter mirrors a filled order one level away. Nothing is placed at the
// edge of the ladder.
func (g *Grid) placeCounter(ctx context.Context, filled trackedOrder, qty float64) {
	levels := g.Levels()
	side := filled.Side.Opposite()
	var (
		level float64
		ok    bool
	)
	if filled.Side == common.SideBuy {
		level, ok = grid.Above(levels, filled.Price)
	} else {
		level, ok = grid.Below(levels, filled.Price)
	}
	if !ok {
		g.log.Info("fill at grid boundary, no counter order",
			zap.String("filled_side", string(filled.Side)),
			zap.Float64("price", filled.Price))
		return
	}
	g.log.Info("placing counter order",
		zap.String("side", string(side)),
		zap.Float64("price", level),
		zap.Float64("qty", qty))
	if !g.placeLimit(ctx, side, level, qty) {
		g.log.Warn("counter order failed, will retry next poll",
			zap.String("side", string(side)), zap.Float64("price", level))
		g.stateMu.Lock()
		g.pending = append(g.pending, trackedOrder{Price: level, Qty: qty, Side: side})
		g.stateMu.Unlock()
	}
}

func (g *Grid) retryPending(ctx context.Context) {
	g.stateMu.Lock()
	todo := g.pending
	g.pending = nil
	g.stateMu.Unlock()

	var left []trackedOrder
	for i, c := range todo {
		if ctx.Err() != nil {
			left = append(left, todo[i:]...)
			break
		}
		if !g.placeLimit(ctx, c.Side, c.Price, c.Qty) {
			left = append(left, c)
		}
	}
	if len(left) > 0 {
		g.stateMu.Lock()
		g.pending = append(left, g.pending...)
		g.stateMu.Unlock()
	}
}

// teardown cancels everything the instance left on the book.
func (g *Grid) teardown(ctx context.Context) {
	for _, id := range g.trackedIDs() {
		if err := g.deps.Gateway.CancelOrder(ctx, g.cfg.Symbol, id); err != nil && !errors.Is(err, common.ErrOrderNotFound) {
			g.log.Warn("cancel tracked order failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	g.cancelOpenOrders(ctx)
	g.setTracked(make(map[string]trackedOrder))
	g.setPending(nil)
}

func (g *Grid) cancelOpenOrders(ctx context.Context) {
	open, err := g.deps.Gateway.GetOpenOrders(ctx, g.cfg.Symbol)
	if err != nil {
		g.log.Warn("list open orders failed", zap.Error(err))
		return
	}
	for _, o := range open {
		if err := g.deps.Gateway.CancelOrder(ctx, g.cfg.Symbol, o.ID); err != nil && !errors.Is(err, common.ErrOrderNotFound) {
			g.log.Warn("cancel open order failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if len(open) > 0 {
		g.log.Info("canceled open orders", zap.Int("count", len(open)))
	}
}

func (g *Grid) trackedIDs() []string {
	g.stateMu.RLock()
	ids := make([]string, 0, len(g.tracked))
	for id := range g.tracked {
		ids = append(ids, id)
	}
	g.stateMu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (g *Grid) untrack(id string) {
	g.stateMu.Lock()
	delete(g.tracked, id)
	g.stateMu.Unlock()
}

func (g *Grid) setTracked(m map[string]trackedOrder) {
	g.stateMu.Lock()
	g.tracked = m
	g.stateMu.Unlock()
}

func (g *Grid) setPending(p []trackedOrder) {
	g.stateMu.Lock()
	g.pending = p
	g.stateMu.Unlock()
}

func (g *Grid) claim(id string) bool {
	g.inflightMu.Lock()
	defer g.inflightMu.Unlock()
	if _, busy := g.inflight[id]; busy {
		return false
	}
	g.inflight[id] = struct{}{}
	return true
}

func (g *Grid) release(id string) {
	g.inflightMu.Lock()
	delete(g.inflight, id)
	g.inflightMu.Unlock()
}
