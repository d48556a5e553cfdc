package common

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeSync keeps the local clock offset against the venue's server time so
// signed requests carry a timestamp inside the venue's recv window.
type TimeSync struct {
	serverTime   func(ctx context.Context) (int64, error)
	offset       int64 // milliseconds, server - local
	lastSync     time.Time
	syncInterval time.Duration
	mu           sync.RWMutex
	log          *zap.Logger
}

// NewTimeSync creates a time synchronization manager.
func NewTimeSync(serverTime func(ctx context.Context) (int64, error), log *zap.Logger) *TimeSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &TimeSync{
		serverTime:   serverTime,
		syncInterval: 30 * time.Minute,
		log:          log,
	}
}

// Start performs an initial sync and keeps resyncing until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		ts.log.Warn("initial time sync failed", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					ts.log.Warn("time sync failed", zap.Error(err))
				}
			}
		}
	}()
}

// Sync measures the offset assuming symmetric network latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now().UnixMilli()
	server, err := ts.serverTime(ctx)
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	ts.log.Debug("time synced", zap.Int64("offset_ms", server-local))
	return nil
}

// Now returns the current time in milliseconds adjusted for the server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
