// Package monitor counts runner activity from the event bus and raises alerts
// when a strategy fails.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strategy-runner/internal/events"
)

// Monitor watches events, feeds the metrics and emits alerts.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Sink    AlertSink
	Logger  *zap.Logger
}

// Start subscribes to the bus and returns immediately; the loop ends with ctx.
// The returned channel closes once the loop has exited.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	log := m.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if m.Bus == nil || m.Metrics == nil {
		log.Warn("monitor not fully configured; skipping")
		close(done)
		return done
	}
	stream, unsub := m.Bus.Subscribe(256,
		events.EventTradeRecorded,
		events.EventSnapshot,
		events.EventStrategyStarted,
		events.EventStrategyFailed,
	)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.handle(env, log)
			}
		}
	}()
	return done
}

func (m *Monitor) handle(env events.Envelope, log *zap.Logger) {
	switch env.Type {
	case events.EventTradeRecorded:
		m.Metrics.IncrementTrades()
	case events.EventSnapshot:
		m.Metrics.IncrementSnapshots()
	case events.EventStrategyStarted:
		m.Metrics.IncrementStarts()
	case events.EventStrategyFailed:
		m.Metrics.IncrementFailures()
		if m.Sink == nil {
			return
		}
		if err := m.Sink.Send(formatAlert(env)); err != nil {
			log.Warn("alert delivery failed", zap.Error(err))
		}
	}
}

func formatAlert(env events.Envelope) string {
	at := env.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if lc, ok := env.Data.(events.Lifecycle); ok {
		return fmt.Sprintf("[%s] strategy %s (%s %s) failed: %s",
			at.Format(time.RFC3339), lc.StrategyID, lc.Kind, lc.Symbol, lc.Reason)
	}
	return "[" + at.Format(time.RFC3339) + "] strategy failed"
}
