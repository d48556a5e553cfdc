package strategy

import (
	"context"

	"go.uber.org/zap"

	"strategy-runner/internal/recorder"
	"strategy-runner/pkg/exchanges/common"
)

// placeOrder submits req for the instance symbol and books any immediate
// execution. Validation and gateway failures are logged and yield nil.
func (b *base) placeOrder(ctx context.Context, req common.OrderRequest) *common.Order {
	req.Symbol = b.cfg.Symbol
	if err := common.ValidateRequest(req); err != nil {
		b.log.Warn("order rejected before submission", zap.Error(err),
			zap.String("side", string(req.Side)), zap.String("type", string(req.Type)))
		return nil
	}
	o, err := b.deps.Gateway.PlaceOrder(ctx, req)
	if err != nil {
		b.log.Error("place order failed", zap.Error(err),
			zap.String("side", string(req.Side)),
			zap.String("type", string(req.Type)),
			zap.Float64("qty", req.Qty),
			zap.Float64("quote_qty", req.QuoteQty),
			zap.Float64("price", req.Price))
		return nil
	}
	b.log.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.Type)),
		zap.String("status", string(o.Status)),
		zap.Float64("executed_qty", o.ExecutedQty))
	if o.ExecutedQty > 0 {
		b.applyFill(ctx, o, o.ExecutedQty)
	}
	return &o
}

// applyFill books qty of o's execution into the position and records the trade.
// Resting orders that fill later come through here as well.
func (b *base) applyFill(ctx context.Context, o common.Order, qty float64) {
	price := o.AvgFillPrice()
	if qty <= 0 || price <= 0 {
		return
	}
	b.stateMu.Lock()
	pnl := b.pos.apply(o.Side, qty, price)
	b.stateMu.Unlock()

	commission, asset := o.Commission()
	if o.ExecutedQty > 0 && qty < o.ExecutedQty {
		commission *= qty / o.ExecutedQty
	}
	t := recorder.Trade{
		OrderID:         o.ID,
		Symbol:          b.cfg.Symbol,
		Side:            o.Side,
		Type:            o.Type,
		Price:           price,
		Qty:             qty,
		Commission:      commission,
		CommissionAsset: asset,
		Time:            b.opts.Now().UTC(),
	}
	if err := b.deps.Recorder.RecordTrade(ctx, b.cfg.ID, b.cfg.OwnerID, t); err != nil {
		b.log.Warn("record trade failed", zap.Error(err), zap.String("order_id", o.ID))
	}
	if pnl != 0 {
		b.log.Info("pnl realized", zap.Float64("pnl", pnl), zap.String("order_id", o.ID))
	}
}

// portfolioValue is base plus quote holdings marked at price. Balance errors
// count as zero holdings.
func (b *base) portfolioValue(ctx context.Context, mark float64) float64 {
	baseAsset, quoteAsset, ok := common.SplitSymbol(b.cfg.Symbol)
	if !ok {
		return 0
	}
	var value float64
	if bal, err := b.deps.Gateway.GetBalance(ctx, quoteAsset); err == nil {
		value += bal.Total()
	}
	if bal, err := b.deps.Gateway.GetBalance(ctx, baseAsset); err == nil {
		value += bal.Total() * mark
	}
	return value
}
