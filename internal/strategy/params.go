package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"strategy-runner/internal/grid"
)

// GridParams configure a grid instance.
type GridParams struct {
	LowerBound       float64 `json:"lower_bound"`
	UpperBound       float64 `json:"upper_bound"`
	NumGrids         int     `json:"num_grids"`
	GridMode         string  `json:"grid_mode"`
	InvestmentAmount float64 `json:"investment_amount"`
	SeedSells        bool    `json:"seed_sells"`
	PollSeconds      int     `json:"poll_seconds"`
	CandleInterval   string  `json:"candle_interval,omitempty"` // backtest bar size only
}

func defaultGridParams() GridParams {
	return GridParams{NumGrids: 5, GridMode: string(grid.Arithmetic), PollSeconds: 30}
}

func (p GridParams) Validate() error {
	if p.LowerBound <= 0 || p.UpperBound <= 0 {
		return fmt.Errorf("%w: grid bounds must be positive", ErrInvalidConfig)
	}
	if p.LowerBound >= p.UpperBound {
		return fmt.Errorf("%w: lower_bound must be below upper_bound", ErrInvalidConfig)
	}
	if p.NumGrids < 2 {
		return fmt.Errorf("%w: num_grids must be at least 2", ErrInvalidConfig)
	}
	if p.InvestmentAmount <= 0 {
		return fmt.Errorf("%w: investment_amount must be positive", ErrInvalidConfig)
	}
	if _, err := grid.ParseMode(p.GridMode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if p.PollSeconds <= 0 {
		return fmt.Errorf("%w: poll_seconds must be positive", ErrInvalidConfig)
	}
	return nil
}

// MomentumParams configure an RSI/MACD momentum instance.
type MomentumParams struct {
	RSIPeriod       int     `json:"rsi_period"`
	RSIOversold     float64 `json:"rsi_oversold"`
	RSIOverbought   float64 `json:"rsi_overbought"`
	MACDFast        int     `json:"macd_fast"`
	MACDSlow        int     `json:"macd_slow"`
	MACDSignal      int     `json:"macd_signal"`
	CandleInterval  string  `json:"candle_interval"`
	LookbackPeriods int     `json:"lookback_periods"`
	TradeQuantity   float64 `json:"trade_quantity"`
	// StopLossPercent is a fraction (0.02 = 2%); zero disables the stop.
	StopLossPercent float64 `json:"stop_loss_percent,omitempty"`
}

func defaultMomentumParams() MomentumParams {
	return MomentumParams{
		RSIPeriod:       14,
		RSIOversold:     30,
		RSIOverbought:   70,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		CandleInterval:  "1h",
		LookbackPeriods: 100,
	}
}

func (p MomentumParams) Validate() error {
	if p.RSIPeriod < 1 {
		return fmt.Errorf("%w: rsi_period must be at least 1", ErrInvalidConfig)
	}
	if p.RSIOversold < 0 || p.RSIOverbought > 100 || p.RSIOversold >= p.RSIOverbought {
		return fmt.Errorf("%w: rsi thresholds must satisfy 0 <= oversold < overbought <= 100", ErrInvalidConfig)
	}
	if p.MACDFast < 1 || p.MACDSignal < 1 || p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("%w: macd periods must satisfy 1 <= fast < slow and signal >= 1", ErrInvalidConfig)
	}
	if p.LookbackPeriods < 1 {
		return fmt.Errorf("%w: lookback_periods must be positive", ErrInvalidConfig)
	}
	if p.TradeQuantity <= 0 {
		return fmt.Errorf("%w: trade_quantity must be positive", ErrInvalidConfig)
	}
	if p.StopLossPercent < 0 || p.StopLossPercent >= 1 {
		return fmt.Errorf("%w: stop_loss_percent must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

// BarsNeeded is how many candles a cycle fetches.
func (p MomentumParams) BarsNeeded() int {
	n := p.MACDSlow + p.MACDSignal
	if p.LookbackPeriods > n {
		n = p.LookbackPeriods
	}
	return n + 5
}

// AccumulationParams configure a periodic-purchase instance.
type AccumulationParams struct {
	PurchaseAmountQuote     float64 `json:"purchase_amount_quote"`
	PurchaseIntervalSeconds int64   `json:"purchase_interval_seconds"`
	CandleInterval          string  `json:"candle_interval,omitempty"`
}

func defaultAccumulationParams() AccumulationParams {
	return AccumulationParams{PurchaseIntervalSeconds: 86400, CandleInterval: "1h"}
}

func (p AccumulationParams) Validate() error {
	if p.PurchaseAmountQuote <= 0 {
		return fmt.Errorf("%w: purchase_amount_quote must be positive", ErrInvalidConfig)
	}
	if p.PurchaseIntervalSeconds <= 0 {
		return fmt.Errorf("%w: purchase_interval_seconds must be positive", ErrInvalidConfig)
	}
	return nil
}

type validator interface{ Validate() error }

// decodeParams overlays raw JSON onto defaults and validates the result.
func decodeParams[T validator](defaults T, raw json.RawMessage) (T, error) {
	out := defaults
	if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&out); err != nil {
			return defaults, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := out.Validate(); err != nil {
		return defaults, err
	}
	return out, nil
}

// mergeParams applies a partial update over a copy of current.
func mergeParams[T validator](current T, partial map[string]any) (T, error) {
	raw, err := json.Marshal(partial)
	if err != nil {
		return current, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return decodeParams(current, raw)
}

// paramStore holds the live parameter record. The loop reads it at the top of
// every cycle; updates swap the whole record.
type paramStore[T validator] struct {
	p atomic.Pointer[T]
}

func newParamStore[T validator](v T) *paramStore[T] {
	s := &paramStore[T]{}
	s.p.Store(&v)
	return s
}

func (s *paramStore[T]) load() T { return *s.p.Load() }

func (s *paramStore[T]) update(partial map[string]any) (T, error) {
	next, err := mergeParams(s.load(), partial)
	if err != nil {
		return s.load(), err
	}
	s.p.Store(&next)
	return next, nil
}

func marshalParams(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
