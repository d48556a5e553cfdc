package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"strategy-runner/internal/indicators"
	"strategy-runner/pkg/exchanges/common"
)

// MomentumState is the FLAT/LONG sub-state. StopPrice zero means no stop.
type MomentumState struct {
	InPosition bool    `json:"in_position"`
	StopPrice  float64 `json:"stop_price,omitempty"`
}

// MomentumBar is one candle with its indicator values.
type MomentumBar struct {
	Time   time.Time
	Low    float64
	Close  float64
	RSI    float64
	MACD   float64
	Signal float64
}

// MomentumAction is the decision for one bar.
type MomentumAction int

const (
	MomentumHold MomentumAction = iota
	MomentumEnter
	MomentumExitSignal
	MomentumExitStop
)

func (a MomentumAction) String() string {
	switch a {
	case MomentumEnter:
		return "enter"
	case MomentumExitSignal:
		return "exit_signal"
	case MomentumExitStop:
		return "exit_stop"
	}
	return "hold"
}

// EvaluateMomentum applies the decision rules to the latest bar. A triggered
// stop wins over every other rule.
func EvaluateMomentum(p MomentumParams, st MomentumState, bar MomentumBar) MomentumAction {
	switch {
	case st.InPosition && st.StopPrice > 0 && bar.Low <= st.StopPrice:
		return MomentumExitStop
	case !st.InPosition:
		if bar.RSI > p.RSIOversold && bar.MACD > bar.Signal {
			return MomentumEnter
		}
	default:
		if bar.RSI < p.RSIOverbought || bar.MACD < bar.Signal {
			return MomentumExitSignal
		}
	}
	return MomentumHold
}

// StopPrice is entry lowered by the configured fraction, or zero when disabled.
func (p MomentumParams) StopPrice(entry float64) float64 {
	if p.StopLossPercent <= 0 || entry <= 0 {
		return 0
	}
	return entry * (1 - p.StopLossPercent)
}

// MomentumBars attaches RSI and MACD to each kline. Bars whose indicators are
// still warming up are returned too; check Defined before using them.
func MomentumBars(klines []common.Kline, p MomentumParams) ([]MomentumBar, error) {
	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	rsi, err := indicators.RSI(closes, p.RSIPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := indicators.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	if err != nil {
		return nil, err
	}
	bars := make([]MomentumBar, len(klines))
	for i, k := range klines {
		bars[i] = MomentumBar{
			Time:   k.OpenTime,
			Low:    k.Low,
			Close:  k.Close,
			RSI:    rsi[i],
			MACD:   macd.MACD[i],
			Signal: macd.Signal[i],
		}
	}
	return bars, nil
}

// Defined reports whether every indicator on the bar has a value.
func (b MomentumBar) Defined() bool {
	return indicators.Defined(b.RSI) && indicators.Defined(b.MACD) && indicators.Defined(b.Signal)
}

// Momentum trades RSI/MACD crossovers with an optional stop-loss.
type Momentum struct {
	*base
	store *paramStore[MomentumParams]
	state MomentumState
}

func newMomentum(cfg Config, deps Deps) (*Momentum, error) {
	p, err := decodeParams(defaultMomentumParams(), cfg.Params)
	if err != nil {
		return nil, err
	}
	m := &Momentum{base: newBase(cfg, deps), store: newParamStore(p)}
	m.impl = m
	return m, nil
}

func (m *Momentum) params() any { return m.store.load() }

func (m *Momentum) updateParams(partial map[string]any) (any, error) {
	return m.store.update(partial)
}

// State returns the FLAT/LONG sub-state.
func (m *Momentum) State() MomentumState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Momentum) setState(st MomentumState) {
	m.stateMu.Lock()
	m.state = st
	m.stateMu.Unlock()
}

func (m *Momentum) run(ctl *loopCtl) error {
	m.setState(MomentumState{})
	for !ctl.stopped() {
		p := m.store.load()
		m.cycle(ctl.io, p)

		wait, ok := ParseInterval(p.CandleInterval)
		if !ok {
			m.log.Warn("unparseable candle interval, sleeping one hour", zap.String("candle_interval", p.CandleInterval))
		}
		if !ctl.sleep(wait) {
			break
		}
	}
	return nil
}

func (m *Momentum) cycle(ctx context.Context, p MomentumParams) {
	klines, err := m.deps.Gateway.GetKlines(ctx, m.cfg.Symbol, p.CandleInterval, time.Time{}, time.Time{}, p.BarsNeeded())
	if err != nil {
		m.log.Warn("fetch klines failed", zap.Error(err))
		return
	}
	bars, err := MomentumBars(klines, p)
	if err != nil {
		m.log.Warn("indicator computation failed", zap.Error(err))
		return
	}
	var last *MomentumBar
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Defined() {
			last = &bars[i]
			break
		}
	}
	if last == nil {
		m.log.Warn("not enough candles for indicators", zap.Int("candles", len(klines)))
		return
	}

	switch action := EvaluateMomentum(p, m.State(), *last); action {
	case MomentumExitStop, MomentumExitSignal:
		m.log.Info("exit signal",
			zap.Stringer("action", action),
			zap.Float64("rsi", last.RSI),
			zap.Float64("macd", last.MACD),
			zap.Float64("signal", last.Signal),
			zap.Float64("low", last.Low))
		m.exit(ctx)
	case MomentumEnter:
		m.log.Info("entry signal",
			zap.Float64("rsi", last.RSI),
			zap.Float64("macd", last.MACD),
			zap.Float64("signal", last.Signal))
		m.enter(ctx, p, last.Close)
	}
	m.maybeSnapshot(ctx, last.Close)
}

func (m *Momentum) enter(ctx context.Context, p MomentumParams, barClose float64) {
	o := m.placeOrder(ctx, common.OrderRequest{
		Side: common.SideBuy,
		Type: common.OrderTypeMarket,
		Qty:  p.TradeQuantity,
	})
	if o == nil {
		return
	}
	if o.Status != common.StatusFilled {
		m.log.Warn("entry order not filled, staying flat", zap.String("status", string(o.Status)))
		return
	}
	entry := o.AvgFillPrice()
	if entry <= 0 {
		entry = barClose
	}
	st := MomentumState{InPosition: true, StopPrice: p.StopPrice(entry)}
	m.setState(st)
	m.log.Info("position opened", zap.Float64("entry", entry), zap.Float64("stop", st.StopPrice))
}

func (m *Momentum) exit(ctx context.Context) {
	size := m.snapshotPosition().size
	if size <= 0 {
		m.log.Warn("in position without holdings, resetting state", zap.Float64("position", size))
		m.setState(MomentumState{})
		return
	}
	o := m.placeOrder(ctx, common.OrderRequest{
		Side: common.SideSell,
		Type: common.OrderTypeMarket,
		Qty:  size,
	})
	if o == nil {
		return
	}
	if o.Status != common.StatusFilled {
		m.log.Warn("exit order not filled, keeping position", zap.String("status", string(o.Status)))
		return
	}
	m.setState(MomentumState{})
	m.log.Info("position closed", zap.Float64("price", o.AvgFillPrice()))
}
