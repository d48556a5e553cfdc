package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-runner/internal/events"
	"strategy-runner/pkg/db"
	"strategy-runner/pkg/exchanges/common"
)

func newRecorder(t *testing.T) (*SQL, *db.Database, *events.Bus) {
	t.Helper()
	d, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	bus := events.NewBus()
	r := NewSQL(d, bus, nil)
	t.Cleanup(func() {
		_ = r.Close()
		_ = d.Close()
	})
	return r, d, bus
}

func TestRecordTradePersistsAndPublishes(t *testing.T) {
	r, d, bus := newRecorder(t)
	ch, unsub := bus.Subscribe(4, events.EventTradeRecorded)
	defer unsub()
	ctx := context.Background()

	err := r.RecordTrade(ctx, "g-1", "owner", Trade{
		OrderID:         "42",
		Symbol:          "BTCUSDT",
		Side:            common.SideBuy,
		Type:            common.OrderTypeLimit,
		Price:           100,
		Qty:             0.5,
		Commission:      0.05,
		CommissionAsset: "USDT",
		Time:            time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	trades, err := d.ListTradesByStrategy(ctx, "g-1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "42", trades[0].OrderID)
	assert.Equal(t, "owner", trades[0].UserID)
	assert.Equal(t, "USDT", trades[0].FeeAsset)

	env := <-ch
	payload, ok := env.Data.(TradeEvent)
	require.True(t, ok)
	assert.Equal(t, "g-1", payload.StrategyID)
}

func TestRecordTradeRejectsIncompleteFill(t *testing.T) {
	r, _, _ := newRecorder(t)
	err := r.RecordTrade(context.Background(), "g-1", "", Trade{Symbol: "BTCUSDT", Side: common.SideBuy})
	assert.ErrorIs(t, err, errMissingField)
}

func TestSnapshotsAreBatched(t *testing.T) {
	r, d, _ := newRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.RecordSnapshot(ctx, "g-1", "owner", Snapshot{
		RealizedPnL: 10, UnrealizedPnL: -4, Trades: 3, Position: 0.2, PortfolioValue: 1000,
	}))
	assert.Equal(t, 1, r.snapshots.Pending())

	require.NoError(t, r.Flush(ctx))
	assert.Zero(t, r.snapshots.Pending())

	snap, err := d.LatestSnapshot(ctx, "g-1")
	require.NoError(t, err)
	assert.InDelta(t, 6, snap.TotalPnL, 1e-12)
	assert.Equal(t, 3, snap.TotalTrades)
	assert.JSONEq(t, `{"realized_pnl":10,"unrealized_pnl":-4,"position":0.2}`, snap.Metrics)

	m := r.WriterMetrics()
	assert.Equal(t, uint64(1), m.TotalBatches)
}

func TestCloseFlushesPending(t *testing.T) {
	d, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer d.Close()

	r := NewSQL(d, nil, nil)
	require.NoError(t, r.RecordSnapshot(context.Background(), "m-1", "", Snapshot{RealizedPnL: 1}))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = d.LatestSnapshot(context.Background(), "m-1")
	assert.NoError(t, err)
}
