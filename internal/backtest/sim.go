package backtest

import (
	"fmt"
	"sort"
	"time"

	"strategy-runner/internal/grid"
	"strategy-runner/internal/strategy"
	"strategy-runner/pkg/exchanges/common"
)

// sim is the simulated account for one run.
type sim struct {
	capital  float64
	fee      float64
	cash     float64
	position float64
	trades   []Trade
	equity   []EquityPoint
}

func (s *sim) buy(t time.Time, price, qty float64, reason string) bool {
	cost := price * qty
	fee := cost * s.fee
	if qty <= 0 || s.cash < cost+fee {
		return false
	}
	s.cash -= cost + fee
	s.position += qty
	s.trades = append(s.trades, Trade{Time: t, Side: common.SideBuy, Price: price, Qty: qty, Commission: fee, Reason: reason})
	return true
}

func (s *sim) sell(t time.Time, price, qty float64, reason string) bool {
	if qty <= 0 || s.position < qty-1e-12 {
		return false
	}
	if qty > s.position {
		qty = s.position
	}
	proceeds := price * qty
	fee := proceeds * s.fee
	s.cash += proceeds - fee
	s.position -= qty
	if s.position < 1e-12 {
		s.position = 0
	}
	s.trades = append(s.trades, Trade{Time: t, Side: common.SideSell, Price: price, Qty: qty, Commission: fee, Reason: reason})
	return true
}

func (s *sim) mark(t time.Time, price float64) {
	s.equity = append(s.equity, EquityPoint{Time: t, Value: s.cash + s.position*price})
}

// runGrid rests buys below the first open and mirrors each fill one level away.
func (s *sim) runGrid(p strategy.GridParams, bars []common.Kline) error {
	mode, err := grid.ParseMode(p.GridMode)
	if err != nil {
		return wrapParam(err)
	}
	levels, err := grid.Levels(p.LowerBound, p.UpperBound, p.NumGrids, mode)
	if err != nil {
		return wrapParam(err)
	}

	buys := make(map[float64]float64)
	sells := make(map[float64]float64)
	for _, o := range grid.BuyOrders(levels, bars[0].Open, p.InvestmentAmount) {
		buys[o.Price] = o.Qty
	}

	for _, b := range bars {
		for _, level := range sortedLevels(buys) {
			qty := buys[level]
			if b.Low > level || !s.buy(b.OpenTime, level, qty, "grid") {
				continue
			}
			delete(buys, level)
			if up, ok := grid.Above(levels, level); ok {
				sells[up] += qty
			}
		}
		for _, level := range sortedLevels(sells) {
			qty := sells[level]
			if b.High < level || !s.sell(b.OpenTime, level, qty, "grid") {
				continue
			}
			delete(sells, level)
			if down, ok := grid.Below(levels, level); ok {
				buys[down] += qty
			}
		}
		s.mark(b.OpenTime, b.Close)
	}
	return nil
}

func sortedLevels(m map[float64]float64) []float64 {
	out := make([]float64, 0, len(m))
	for l := range m {
		out = append(out, l)
	}
	sort.Float64s(out)
	return out
}

// runMomentum runs the live entry, exit and stop rules bar by bar.
func (s *sim) runMomentum(p strategy.MomentumParams, bars []common.Kline) error {
	annotated, err := strategy.MomentumBars(bars, p)
	if err != nil {
		return wrapParam(err)
	}
	warmup := p.RSIPeriod
	if n := p.MACDSlow + p.MACDSignal; n > warmup {
		warmup = n
	}
	if len(annotated) <= warmup {
		return ErrInsufficientData
	}

	var st strategy.MomentumState
	for i := warmup; i < len(annotated); i++ {
		bar := annotated[i]
		if bar.Defined() {
			switch strategy.EvaluateMomentum(p, st, bar) {
			case strategy.MomentumExitStop:
				if s.sell(bar.Time, bar.Close, s.position, "stop_loss") {
					st = strategy.MomentumState{}
				}
			case strategy.MomentumExitSignal:
				if s.sell(bar.Time, bar.Close, s.position, "signal") {
					st = strategy.MomentumState{}
				}
			case strategy.MomentumEnter:
				if s.buy(bar.Time, bar.Close, p.TradeQuantity, "signal") {
					st = strategy.MomentumState{InPosition: true, StopPrice: p.StopPrice(bar.Close)}
				}
			}
		}
		s.mark(bar.Time, bar.Close)
	}
	return nil
}

// runAccumulation buys a fixed quote amount on the first bar and then whenever
// the interval has elapsed since the last purchase.
func (s *sim) runAccumulation(p strategy.AccumulationParams, bars []common.Kline) error {
	interval := time.Duration(p.PurchaseIntervalSeconds) * time.Second
	var last time.Time
	for _, b := range bars {
		if due, _ := strategy.AccumulationDue(last, b.OpenTime, interval); due && b.Close > 0 {
			qty := p.PurchaseAmountQuote / b.Close
			if s.buy(b.OpenTime, b.Close, qty, "schedule") {
				last = b.OpenTime
			}
		}
		s.mark(b.OpenTime, b.Close)
	}
	return nil
}

func (s *sim) report() *Report {
	r := &Report{
		InitialCapital: s.capital,
		Commission:     s.fee,
		TotalTrades:    len(s.trades),
		FinalCash:      s.cash,
		FinalPosition:  s.position,
		Equity:         s.equity,
		Trades:         s.trades,
	}
	if r.Trades == nil {
		r.Trades = []Trade{}
	}
	r.FinalValue = s.capital
	if n := len(s.equity); n > 0 {
		r.FinalValue = s.equity[n-1].Value
	}
	r.PnL = r.FinalValue - s.capital
	r.PnLPercent = r.PnL / s.capital * 100
	r.WinRate = winRate(s.trades)
	r.MaxDrawdown = maxDrawdown(s.equity)
	r.MaxDrawdownPercent = r.MaxDrawdown * 100
	return r
}

// winRate pairs each SELL with the trade right before it when that is a BUY;
// the pair wins when the sell price is higher. Returns a percentage.
func winRate(trades []Trade) float64 {
	var wins, losses int
	for i := 1; i < len(trades); i++ {
		if trades[i].Side != common.SideSell || trades[i-1].Side != common.SideBuy {
			continue
		}
		if trades[i].Price > trades[i-1].Price {
			wins++
		} else {
			losses++
		}
	}
	if wins+losses == 0 {
		return 0
	}
	return float64(wins) / float64(wins+losses) * 100
}

// maxDrawdown is the largest peak-to-trough fall as a fraction of the peak.
func maxDrawdown(curve []EquityPoint) float64 {
	var peak, worst float64
	for i, p := range curve {
		if i == 0 || p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func wrapParam(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
}
