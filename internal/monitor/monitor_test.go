package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-runner/internal/events"
	"strategy-runner/internal/recorder"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (s *captureSink) Send(m string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return s.err
}

func (s *captureSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func TestMonitorCountsAndAlerts(t *testing.T) {
	bus := events.NewBus()
	metrics := NewSystemMetrics(bus.Dropped)
	sink := &captureSink{err: errors.New("smtp down")}
	ctx, cancel := context.WithCancel(context.Background())
	done := (&Monitor{Bus: bus, Metrics: metrics, Sink: sink}).Start(ctx)

	bus.Publish(events.EventStrategyStarted, events.Lifecycle{StrategyID: "g1"})
	bus.Publish(events.EventTradeRecorded, struct{}{})
	bus.Publish(events.EventTradeRecorded, struct{}{})
	bus.Publish(events.EventSnapshot, struct{}{})
	bus.Publish(events.EventStrategyFailed, events.Lifecycle{
		StrategyID: "g1", Kind: "grid", Symbol: "BTCUSDT", Reason: "boom",
	})
	bus.Publish(events.EventParamsUpdated, events.Lifecycle{StrategyID: "g1"})

	require.Eventually(t, func() bool {
		return metrics.GetSnapshot().StrategyFailures == 1
	}, time.Second, 5*time.Millisecond)

	snap := metrics.GetSnapshot()
	assert.Equal(t, uint64(2), snap.TradesRecorded)
	assert.Equal(t, uint64(1), snap.Snapshots)
	assert.Equal(t, uint64(1), snap.StrategyStarts)
	assert.Zero(t, snap.EventsDropped)

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "strategy g1 (grid BTCUSDT) failed: boom")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitorWithoutBus(t *testing.T) {
	done := (&Monitor{}).Start(context.Background())
	_, open := <-done
	assert.False(t, open)
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram(4)
	assert.Zero(t, h.Stats().Count)

	for _, v := range []float64{50, 10, 20, 30, 40} {
		h.Record(v)
	}
	st := h.Stats()
	assert.Equal(t, 4, st.Count) // oldest sample evicted
	assert.Equal(t, 10.0, st.Min)
	assert.Equal(t, 40.0, st.Max)
	assert.Equal(t, 25.0, st.Avg)

	h.RecordDuration(2 * time.Millisecond)
	assert.Equal(t, 2.0, h.Stats().Min)
}

func TestObserveRequest(t *testing.T) {
	m := NewSystemMetrics(nil)
	m.ObserveRequest(time.Millisecond, 200)
	m.ObserveRequest(3*time.Millisecond, 404)
	m.ObserveRequest(2*time.Millisecond, 500)

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(3), snap.APIRequests)
	assert.Equal(t, uint64(2), snap.APIErrors)
	assert.Equal(t, 3, snap.APILatency.Count)
	assert.Equal(t, 2.0, snap.APILatency.P50)
}

func TestSnapshotWriterStats(t *testing.T) {
	m := NewSystemMetrics(nil)
	assert.Nil(t, m.GetSnapshot().SnapshotWriter)

	flushed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	m.ObserveSnapshotWriter(func() recorder.WriterMetrics {
		return recorder.WriterMetrics{TotalWrites: 7, TotalBatches: 2, LastBatchSize: 3, LastFlushTime: flushed}
	})

	w := m.GetSnapshot().SnapshotWriter
	require.NotNil(t, w)
	assert.Equal(t, uint64(7), w.TotalWrites)
	assert.Equal(t, uint64(2), w.TotalBatches)
	assert.Equal(t, 3, w.LastBatchSize)
	assert.Equal(t, flushed, w.LastFlushTime)
}
