package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"strategy-runner/internal/recorder"
)

// SystemMetrics tracks overall runner activity.
type SystemMetrics struct {
	APILatency *LatencyHistogram

	// Counters
	apiRequests      atomic.Uint64
	apiErrors        atomic.Uint64
	tradesRecorded   atomic.Uint64
	snapshots        atomic.Uint64
	strategyStarts   atomic.Uint64
	strategyFailures atomic.Uint64

	started time.Time
	dropped func() int64
	writer  atomic.Pointer[func() recorder.WriterMetrics]
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool // samples changed since the last Stats
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance. dropped reports event bus
// deliveries skipped for slow subscribers and may be nil.
func NewSystemMetrics(dropped func() int64) *SystemMetrics {
	return &SystemMetrics{
		APILatency: NewLatencyHistogram(1000),
		started:    time.Now(),
		dropped:    dropped,
	}
}

// ObserveSnapshotWriter reports the recorder's snapshot batching counters
// alongside the runner metrics.
func (m *SystemMetrics) ObserveSnapshotWriter(stats func() recorder.WriterMetrics) {
	m.writer.Store(&stats)
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99; recomputed only after new samples.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveRequest records one API request.
func (m *SystemMetrics) ObserveRequest(latency time.Duration, status int) {
	m.apiRequests.Add(1)
	if status >= 400 {
		m.apiErrors.Add(1)
	}
	m.APILatency.RecordDuration(latency)
}

func (m *SystemMetrics) IncrementTrades() { m.tradesRecorded.Add(1) }
func (m *SystemMetrics) IncrementSnapshots() { m.snapshots.Add(1) }
func (m *SystemMetrics) IncrementStarts() { m.strategyStarts.Add(1) }
func (m *SystemMetrics) IncrementFailures() { m.strategyFailures.Add(1) }

// MetricsSnapshot is a point-in-time view for the API.
type MetricsSnapshot struct {
	APILatency       LatencyStats            `json:"api_latency"`
	APIRequests      uint64                  `json:"api_requests"`
	APIErrors        uint64                  `json:"api_errors"`
	TradesRecorded   uint64                  `json:"trades_recorded"`
	Snapshots        uint64                  `json:"snapshots_recorded"`
	StrategyStarts   uint64                  `json:"strategy_starts"`
	StrategyFailures uint64                  `json:"strategy_failures"`
	EventsDropped    int64                   `json:"events_dropped"`
	SnapshotWriter   *recorder.WriterMetrics `json:"snapshot_writer,omitempty"`
	GoroutineCount   int                     `json:"goroutine_count"`
	HeapAlloc        uint64                  `json:"heap_alloc_bytes"`
	Uptime           string                  `json:"uptime"`
	Timestamp        time.Time               `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var dropped int64
	if m.dropped != nil {
		dropped = m.dropped()
	}
	var writer *recorder.WriterMetrics
	if f := m.writer.Load(); f != nil {
		w := (*f)()
		writer = &w
	}
	return MetricsSnapshot{
		APILatency:       m.APILatency.Stats(),
		APIRequests:      m.apiRequests.Load(),
		APIErrors:        m.apiErrors.Load(),
		TradesRecorded:   m.tradesRecorded.Load(),
		Snapshots:        m.snapshots.Load(),
		StrategyStarts:   m.strategyStarts.Load(),
		StrategyFailures: m.strategyFailures.Load(),
		EventsDropped:    dropped,
		SnapshotWriter:   writer,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Uptime:           time.Since(m.started).Truncate(time.Second).String(),
		Timestamp:        time.Now().UTC(),
	}
}
