package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"strategy-runner/pkg/db"
)

// WriterMetrics provides statistics about batch operations.
type WriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// SnapshotWriter buffers snapshot rows and writes them in one transaction,
// either when the buffer fills or on a timer.
type SnapshotWriter struct {
	db       *db.Database
	log      *zap.Logger
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	buffer []db.PerformanceSnapshot

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
	lastMu       sync.Mutex
	lastSize     int
	lastFlush    time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSnapshotWriter starts the background flusher.
// maxSize: rows before an immediate flush
// interval: time-based flush interval
func NewSnapshotWriter(d *db.Database, maxSize int, interval time.Duration, log *zap.Logger) *SnapshotWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &SnapshotWriter{
		db:       d,
		log:      log,
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]db.PerformanceSnapshot, 0, maxSize),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.backgroundFlush()
	return w
}

// Add queues one row.
func (w *SnapshotWriter) Add(s db.PerformanceSnapshot) {
	w.mu.Lock()
	w.buffer = append(w.buffer, s)
	full := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if full {
		if err := w.Flush(context.Background()); err != nil {
			w.log.Warn("snapshot flush failed", zap.Error(err))
		}
	}
}

// Flush immediately writes all buffered rows.
func (w *SnapshotWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = make([]db.PerformanceSnapshot, 0, w.maxSize)
	w.mu.Unlock()

	w.totalWrites.Add(uint64(len(batch)))
	w.totalBatches.Add(1)
	w.lastMu.Lock()
	w.lastSize = len(batch)
	w.lastFlush = time.Now()
	w.lastMu.Unlock()

	if err := w.db.CreateSnapshots(ctx, batch); err != nil {
		w.totalErrors.Add(1)
		return err
	}
	w.log.Debug("snapshots flushed", zap.Int("rows", len(batch)))
	return nil
}

func (w *SnapshotWriter) backgroundFlush() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Flush(context.Background()); err != nil {
				w.log.Warn("background snapshot flush failed", zap.Error(err))
			}
		case <-w.done:
			if err := w.Flush(context.Background()); err != nil {
				w.log.Warn("final snapshot flush failed", zap.Error(err))
			}
			return
		}
	}
}

// Pending returns the number of queued rows.
func (w *SnapshotWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Metrics returns the writer counters.
func (w *SnapshotWriter) Metrics() WriterMetrics {
	w.lastMu.Lock()
	defer w.lastMu.Unlock()
	return WriterMetrics{
		TotalWrites:   w.totalWrites.Load(),
		TotalBatches:  w.totalBatches.Load(),
		TotalErrors:   w.totalErrors.Load(),
		LastBatchSize: w.lastSize,
		LastFlushTime: w.lastFlush,
	}
}

// Close performs a final flush and stops the background goroutine.
func (w *SnapshotWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}
