package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"strategy-runner/pkg/exchanges/common"
)

const purchaseRetryWait = 60 * time.Second

// AccumulationDue reports whether a purchase is due at now. When it is not,
// wait is the time left until it will be. A zero last means nothing has been
// bought yet.
func AccumulationDue(last, now time.Time, interval time.Duration) (due bool, wait time.Duration) {
	if last.IsZero() {
		return true, 0
	}
	elapsed := now.Sub(last)
	if elapsed >= interval {
		return true, 0
	}
	return false, interval - elapsed
}

// Accumulation buys a fixed quote amount on a fixed schedule.
type Accumulation struct {
	*base
	store        *paramStore[AccumulationParams]
	lastPurchase time.Time
}

func newAccumulation(cfg Config, deps Deps) (*Accumulation, error) {
	p, err := decodeParams(defaultAccumulationParams(), cfg.Params)
	if err != nil {
		return nil, err
	}
	a := &Accumulation{base: newBase(cfg, deps), store: newParamStore(p)}
	a.impl = a
	return a, nil
}

func (a *Accumulation) params() any { return a.store.load() }

func (a *Accumulation) updateParams(partial map[string]any) (any, error) {
	return a.store.update(partial)
}

// LastPurchase is the time of the last successful purchase, zero if none.
func (a *Accumulation) LastPurchase() time.Time {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.lastPurchase
}

func (a *Accumulation) run(ctl *loopCtl) error {
	a.stateMu.Lock()
	a.lastPurchase = time.Time{}
	a.stateMu.Unlock()

	for !ctl.stopped() {
		wait := a.cycle(ctl.io, a.opts.Now())
		if !ctl.sleep(wait) {
			break
		}
	}
	return nil
}

// cycle buys when due and returns how long to sleep before the next check.
func (a *Accumulation) cycle(ctx context.Context, now time.Time) time.Duration {
	p := a.store.load()
	interval := time.Duration(p.PurchaseIntervalSeconds) * time.Second

	due, wait := AccumulationDue(a.LastPurchase(), now, interval)
	if !due {
		return wait
	}

	a.log.Info("purchase due", zap.Float64("quote_amount", p.PurchaseAmountQuote))
	o := a.placeOrder(ctx, common.OrderRequest{
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		QuoteQty: p.PurchaseAmountQuote,
	})
	if !purchaseSucceeded(o) {
		retry := purchaseRetryWait
		if interval < retry {
			retry = interval
		}
		a.log.Warn("purchase failed, retrying later", zap.Duration("retry_in", retry))
		return retry
	}

	a.stateMu.Lock()
	a.lastPurchase = now
	a.stateMu.Unlock()
	a.log.Info("purchase completed",
		zap.String("order_id", o.ID),
		zap.Float64("qty", o.ExecutedQty),
		zap.Float64("price", o.AvgFillPrice()))
	a.maybeSnapshot(ctx, o.AvgFillPrice())
	return interval
}

func purchaseSucceeded(o *common.Order) bool {
	if o == nil {
		return false
	}
	switch o.Status {
	case common.StatusRejected, common.StatusExpired, common.StatusCanceled:
		return false
	}
	return true
}
