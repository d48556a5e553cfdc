package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-runner/pkg/exchanges/common"
)

func TestEvaluateMomentum(t *testing.T) {
	p := defaultMomentumParams()
	p.TradeQuantity = 1

	tests := []struct {
		name  string
		state MomentumState
		bar   MomentumBar
		want  MomentumAction
	}{
		{
			name: "flat enters on strength",
			bar:  MomentumBar{Low: 99, Close: 100, RSI: 55, MACD: 1.2, Signal: 1.0},
			want: MomentumEnter,
		},
		{
			name: "flat waits when rsi is oversold",
			bar:  MomentumBar{Low: 99, Close: 100, RSI: 25, MACD: 1.2, Signal: 1.0},
			want: MomentumHold,
		},
		{
			name: "flat waits when macd is below signal",
			bar:  MomentumBar{Low: 99, Close: 100, RSI: 55, MACD: 0.8, Signal: 1.0},
			want: MomentumHold,
		},
		{
			name:  "long exits when rsi falls under overbought",
			state: MomentumState{InPosition: true},
			bar:   MomentumBar{Low: 99, Close: 100, RSI: 60, MACD: 1.2, Signal: 1.0},
			want:  MomentumExitSignal,
		},
		{
			name:  "long holds while strong",
			state: MomentumState{InPosition: true, StopPrice: 90},
			bar:   MomentumBar{Low: 95, Close: 100, RSI: 75, MACD: 1.2, Signal: 1.0},
			want:  MomentumHold,
		},
		{
			name:  "stop wins over a hold",
			state: MomentumState{InPosition: true, StopPrice: 95},
			bar:   MomentumBar{Low: 94, Close: 100, RSI: 80, MACD: 2, Signal: 1},
			want:  MomentumExitStop,
		},
		{
			name:  "stop wins over a signal exit",
			state: MomentumState{InPosition: true, StopPrice: 95},
			bar:   MomentumBar{Low: 95, Close: 96, RSI: 40, MACD: 0.5, Signal: 1},
			want:  MomentumExitStop,
		},
		{
			name:  "no stop configured",
			state: MomentumState{InPosition: true},
			bar:   MomentumBar{Low: 1, Close: 100, RSI: 80, MACD: 2, Signal: 1},
			want:  MomentumHold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateMomentum(p, tt.state, tt.bar))
		})
	}
}

func TestMomentumStopPrice(t *testing.T) {
	p := defaultMomentumParams()
	assert.Zero(t, p.StopPrice(100))
	p.StopLossPercent = 0.05
	assert.InDelta(t, 95, p.StopPrice(100), 1e-12)
}

func TestMomentumBarsNeeded(t *testing.T) {
	p := defaultMomentumParams()
	assert.Equal(t, 105, p.BarsNeeded())
	p.LookbackPeriods = 10
	assert.Equal(t, 40, p.BarsNeeded())
}

// risingKlines closes at 100, 101, 102, ... with lows half a point under.
func risingKlines(n int) []common.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]common.Kline, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = common.Kline{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1)*time.Hour - time.Millisecond),
			Open:      c - 0.5,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func newTestMomentum(t *testing.T, market *scriptedMarket, rec *memRecorder) *Momentum {
	t.Helper()
	return newMomentumOn(t, newPaper(map[string]float64{"USDT": 100000}, market), rec)
}

func newMomentumOn(t *testing.T, gw common.Gateway, rec *memRecorder) *Momentum {
	t.Helper()
	m, err := newMomentum(Config{
		ID:     "mom-1",
		Kind:   KindMomentum,
		Symbol: "ETHUSDT",
		Active: true,
		Params: rawParams(t, map[string]any{
			"trade_quantity":    0.5,
			"stop_loss_percent": 0.05,
		}),
	}, testDeps(gw, rec))
	require.NoError(t, err)
	return m
}

func TestMomentumEntryThenStopExit(t *testing.T) {
	market := &scriptedMarket{}
	market.set(risingKlines(120))
	rec := &memRecorder{}
	m := newTestMomentum(t, market, rec)
	ctx := context.Background()

	m.cycle(ctx, m.store.load())

	st := m.State()
	require.True(t, st.InPosition)
	assert.InDelta(t, 219*0.95, st.StopPrice, 1e-9)
	status := m.Status()
	assert.InDelta(t, 0.5, status.Position, 1e-12)
	require.NotNil(t, status.EntryPrice)
	assert.InDelta(t, 219, *status.EntryPrice, 1e-9)

	// Still strong, but the next bar trades through the stop.
	bars := risingKlines(121)
	bars[120].Low = 150
	market.set(bars)

	m.cycle(ctx, m.store.load())

	assert.False(t, m.State().InPosition)
	status = m.Status()
	assert.Zero(t, status.Position)
	assert.Nil(t, status.EntryPrice)
	assert.Equal(t, 2, status.Trades)
	assert.InDelta(t, 0.5*(220-219), status.RealizedPnL, 1e-9)

	trades := rec.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, common.SideBuy, trades[0].Side)
	assert.Equal(t, common.SideSell, trades[1].Side)
}

func TestMomentumSkipsWithoutEnoughCandles(t *testing.T) {
	market := &scriptedMarket{}
	market.set(risingKlines(20))
	m := newTestMomentum(t, market, &memRecorder{})

	m.cycle(context.Background(), m.store.load())

	assert.False(t, m.State().InPosition)
	assert.Zero(t, m.Status().Trades)
}

func TestMomentumExitWithoutHoldingsResets(t *testing.T) {
	market := &scriptedMarket{}
	market.set(risingKlines(120))
	m := newTestMomentum(t, market, &memRecorder{})
	m.setState(MomentumState{InPosition: true})

	m.exit(context.Background())

	assert.False(t, m.State().InPosition)
	assert.Zero(t, m.Status().Trades)
}

func TestMomentumRejectsInvalidParams(t *testing.T) {
	tests := map[string]map[string]any{
		"no quantity":      {},
		"fast above slow":  {"trade_quantity": 1, "macd_fast": 30, "macd_slow": 26},
		"inverted rsi":     {"trade_quantity": 1, "rsi_oversold": 80, "rsi_overbought": 20},
		"stop at 100%":     {"trade_quantity": 1, "stop_loss_percent": 1},
		"unknown field":    {"trade_quantity": 1, "take_profit": 0.1},
		"negative rsi len": {"trade_quantity": 1, "rsi_period": -3},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newMomentum(Config{ID: "m", Kind: KindMomentum, Symbol: "ETHUSDT", Params: rawParams(t, params)},
				testDeps(newPaper(nil, nil), nil))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
