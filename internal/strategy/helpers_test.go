package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategy-runner/internal/recorder"
	"strategy-runner/pkg/exchanges/common"
	"strategy-runner/pkg/exchanges/paper"
)

type memRecorder struct {
	mu        sync.Mutex
	trades    []recorder.Trade
	snapshots []recorder.Snapshot
}

func (m *memRecorder) RecordTrade(_ context.Context, _, _ string, t recorder.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *memRecorder) RecordSnapshot(_ context.Context, _, _ string, s recorder.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *memRecorder) Trades() []recorder.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recorder.Trade(nil), m.trades...)
}

// scriptedMarket serves a fixed candle series; the price is the last close.
type scriptedMarket struct {
	mu     sync.Mutex
	klines []common.Kline
}

func (s *scriptedMarket) set(k []common.Kline) {
	s.mu.Lock()
	s.klines = k
	s.mu.Unlock()
}

func (s *scriptedMarket) GetKlines(_ context.Context, _, _ string, _, _ time.Time, limit int) ([]common.Kline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.klines
	if limit > 0 && len(k) > limit {
		k = k[len(k)-limit:]
	}
	return append([]common.Kline(nil), k...), nil
}

func (s *scriptedMarket) GetPrice(context.Context, string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.klines) == 0 {
		return 0, common.ErrNoPrice
	}
	return s.klines[len(s.klines)-1].Close, nil
}

func newPaper(balances map[string]float64, market paper.MarketData) *paper.Gateway {
	return paper.New(paper.Config{
		Balances:     balances,
		Market:       market,
		RefreshEvery: time.Nanosecond,
		Seed:         1,
	})
}

func testDeps(gw common.Gateway, rec recorder.Recorder) Deps {
	return Deps{
		Gateway:  gw,
		Recorder: rec,
		Options: Options{
			StopGrace:  300 * time.Millisecond,
			AbortWait:  100 * time.Millisecond,
			SleepSlice: 10 * time.Millisecond,
		},
	}
}

func rawParams(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

var errVenueTimeout = errors.New("venue timeout")

// flakyGateway is a paper venue whose selected calls fail until healed.
type flakyGateway struct {
	*paper.Gateway

	mu         sync.Mutex
	failing    map[string]bool
	klineCalls int
}

func newFlaky(gw *paper.Gateway) *flakyGateway {
	return &flakyGateway{Gateway: gw, failing: make(map[string]bool)}
}

func (f *flakyGateway) fail(op string, on bool) {
	f.mu.Lock()
	f.failing[op] = on
	f.mu.Unlock()
}

func (f *flakyGateway) broken(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing[op]
}

func (f *flakyGateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if f.broken("PlaceOrder") {
		return common.Order{}, errVenueTimeout
	}
	return f.Gateway.PlaceOrder(ctx, req)
}

func (f *flakyGateway) GetOrder(ctx context.Context, symbol, id string) (common.Order, error) {
	if f.broken("GetOrder") {
		return common.Order{}, errVenueTimeout
	}
	return f.Gateway.GetOrder(ctx, symbol, id)
}

func (f *flakyGateway) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]common.Kline, error) {
	f.mu.Lock()
	f.klineCalls++
	f.mu.Unlock()
	if f.broken("GetKlines") {
		return nil, errVenueTimeout
	}
	return f.Gateway.GetKlines(ctx, symbol, interval, start, end, limit)
}

func (f *flakyGateway) klines() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.klineCalls
}
