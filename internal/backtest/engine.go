// Package backtest replays the strategy decision rules over historical bars
// with simulated fills and commissions. It shares no state with live trading.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strategy-runner/internal/data"
	"strategy-runner/internal/strategy"
	"strategy-runner/pkg/exchanges/common"
)

const (
	DefaultInitialCapital = 10000.0
	DefaultCommission     = 0.001
)

var (
	// ErrInsufficientData is returned when the series is too short to simulate.
	ErrInsufficientData = errors.New("insufficient historical data")
	// ErrInvalidParameter is returned for parameters the simulation cannot use.
	ErrInvalidParameter = errors.New("invalid backtest parameter")
)

// Trade is one simulated fill.
type Trade struct {
	Time       time.Time   `json:"timestamp"`
	Side       common.Side `json:"side"`
	Price      float64     `json:"price"`
	Qty        float64     `json:"quantity"`
	Commission float64     `json:"commission"`
	Reason     string      `json:"reason,omitempty"`
}

// EquityPoint is the portfolio value at a bar close.
type EquityPoint struct {
	Time  time.Time `json:"timestamp"`
	Value float64   `json:"value"`
}

// Report is the complete result of one run.
type Report struct {
	Symbol             string        `json:"symbol"`
	Kind               strategy.Kind `json:"kind"`
	Interval           string        `json:"interval"`
	Start              time.Time     `json:"start"`
	End                time.Time     `json:"end"`
	Params             any           `json:"params"`
	Bars               int           `json:"bars"`
	InitialCapital     float64       `json:"initial_capital"`
	Commission         float64       `json:"commission_rate"`
	FinalValue         float64       `json:"final_portfolio_value"`
	PnL                float64       `json:"total_pnl"`
	PnLPercent         float64       `json:"total_pnl_percent"`
	TotalTrades        int           `json:"total_trades"`
	WinRate            float64       `json:"win_rate"`
	MaxDrawdown        float64       `json:"max_drawdown"`
	MaxDrawdownPercent float64       `json:"max_drawdown_percent"`
	FinalCash          float64       `json:"final_cash"`
	FinalPosition      float64       `json:"final_position"`
	Equity             []EquityPoint `json:"equity_curve"`
	Trades             []Trade       `json:"trades"`
}

// Engine runs simulations. The zero value uses the defaults.
type Engine struct {
	InitialCapital float64
	Commission     float64
	Logger         *zap.Logger
}

func (e Engine) capital() float64 {
	if e.InitialCapital > 0 {
		return e.InitialCapital
	}
	return DefaultInitialCapital
}

func (e Engine) commission() float64 {
	if e.Commission > 0 {
		return e.Commission
	}
	return DefaultCommission
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Interval is the bar size a run of cfg uses: candle_interval when set,
// otherwise 15m for grid and 1h for the rest.
func Interval(cfg strategy.Config) (string, error) {
	_, interval, err := decode(cfg)
	return interval, err
}

// decode validates the parameters of cfg and resolves its bar interval.
func decode(cfg strategy.Config) (params any, interval string, err error) {
	switch cfg.Kind {
	case strategy.KindGrid:
		p, err := strategy.DecodeGridParams(cfg.Params)
		if err != nil {
			return nil, "", wrapParam(err)
		}
		if p.CandleInterval == "" {
			return p, "15m", nil
		}
		return p, p.CandleInterval, nil
	case strategy.KindMomentum:
		p, err := strategy.DecodeMomentumParams(cfg.Params)
		if err != nil {
			return nil, "", wrapParam(err)
		}
		return p, p.CandleInterval, nil
	case strategy.KindAccumulation:
		p, err := strategy.DecodeAccumulationParams(cfg.Params)
		if err != nil {
			return nil, "", wrapParam(err)
		}
		if p.CandleInterval == "" {
			return p, "1h", nil
		}
		return p, p.CandleInterval, nil
	}
	return nil, "", fmt.Errorf("%w: unsupported kind %q", ErrInvalidParameter, cfg.Kind)
}

// RunRange fetches bars for [start, end) from src and runs the simulation.
func (e Engine) RunRange(ctx context.Context, src common.KlineSource, cfg strategy.Config, start, end time.Time) (*Report, error) {
	interval, err := Interval(cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := strategy.ParseInterval(interval); !ok {
		return nil, fmt.Errorf("%w: candle interval %q", ErrInvalidParameter, interval)
	}
	bars, err := data.NewHistoricalDataService(src, e.Logger).GetKlines(ctx, cfg.Symbol, interval, start, end)
	if errors.Is(err, data.ErrNoData) {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	if err != nil {
		return nil, err
	}
	r, err := e.Run(cfg, bars)
	if err != nil {
		return nil, err
	}
	r.Start, r.End = start, end
	return r, nil
}

// Run simulates cfg over bars, which must be ordered oldest first.
func (e Engine) Run(cfg strategy.Config, bars []common.Kline) (*Report, error) {
	if len(bars) == 0 {
		return nil, ErrInsufficientData
	}
	params, interval, err := decode(cfg)
	if err != nil {
		return nil, err
	}

	s := &sim{capital: e.capital(), fee: e.commission(), cash: e.capital()}
	switch p := params.(type) {
	case strategy.GridParams:
		err = s.runGrid(p, bars)
	case strategy.MomentumParams:
		err = s.runMomentum(p, bars)
	case strategy.AccumulationParams:
		err = s.runAccumulation(p, bars)
	}
	if err != nil {
		return nil, err
	}

	r := s.report()
	r.Symbol = cfg.Symbol
	r.Kind = cfg.Kind
	r.Interval = interval
	r.Params = params
	r.Start = bars[0].OpenTime
	r.End = bars[len(bars)-1].OpenTime
	r.Bars = len(bars)
	e.logger().Info("backtest completed",
		zap.String("symbol", cfg.Symbol),
		zap.String("kind", string(cfg.Kind)),
		zap.Int("bars", len(bars)),
		zap.Int("trades", r.TotalTrades),
		zap.Float64("pnl", r.PnL))
	return r, nil
}
