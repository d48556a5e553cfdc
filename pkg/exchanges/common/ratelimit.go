package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests and tracks the weight the venue reports back.
type RateLimiter struct {
	pace          *rate.Limiter
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
	log           *zap.Logger
}

// NewRateLimiter creates a new rate limiter.
// limit: maximum weight allowed per window (e.g., 6000 for spot)
// resetInterval: time window (e.g., 1 minute)
// perSecond/burst: request pacing applied before every call
func NewRateLimiter(limit int, resetInterval time.Duration, perSecond float64, burst int, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		pace:          rate.NewLimiter(rate.Limit(perSecond), burst),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		log:           log,
	}
}

// Wait blocks until a request may be sent. Near the weight ceiling it also
// waits out the rest of the current window.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.ShouldDelay() {
		rl.mu.RLock()
		remaining := rl.resetInterval - time.Since(rl.lastReset)
		rl.mu.RUnlock()
		if remaining > 0 {
			rl.log.Warn("rate limit near ceiling, delaying", zap.Duration("wait", remaining))
			t := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return rl.pace.Wait(ctx)
}

// UpdateFromHeader updates the used weight from API response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}

	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}

	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		rl.log.Error("rate limit critical", zap.Int("used", rl.usedWeight), zap.Int("limit", rl.limit))
	} else if percentage >= 80 {
		rl.log.Warn("rate limit warning", zap.Int("used", rl.usedWeight), zap.Int("limit", rl.limit))
	}
}

// Usage returns current usage information.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}

	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true once 90% of the window weight is used.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.Usage()
	return pct >= 90
}
