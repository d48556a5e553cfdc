// Package recorder persists strategy fills and performance snapshots and
// republishes them on the event bus.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strategy-runner/internal/events"
	"strategy-runner/pkg/db"
	"strategy-runner/pkg/exchanges/common"
)

// Trade is an immutable fill record.
type Trade struct {
	OrderID         string           `json:"order_id"`
	Symbol          string           `json:"symbol"`
	Side            common.Side      `json:"side"`
	Type            common.OrderType `json:"type"`
	Price           float64          `json:"price"`
	Qty             float64          `json:"qty"`
	Commission      float64          `json:"commission"`
	CommissionAsset string           `json:"commission_asset"`
	Time            time.Time        `json:"time"`
}

// Snapshot is a point-in-time performance view of one strategy.
type Snapshot struct {
	Time           time.Time `json:"time"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	Trades         int       `json:"trades"`
	Position       float64   `json:"position"`
	PortfolioValue float64   `json:"portfolio_value"`
}

// TotalPnL is realized plus unrealized.
func (s Snapshot) TotalPnL() float64 { return s.RealizedPnL + s.UnrealizedPnL }

// Recorder receives fills and snapshots. Callers log failures and carry on.
type Recorder interface {
	RecordTrade(ctx context.Context, strategyID, ownerID string, t Trade) error
	RecordSnapshot(ctx context.Context, strategyID, ownerID string, s Snapshot) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(context.Context, string, string, Trade) error       { return nil }
func (Nop) RecordSnapshot(context.Context, string, string, Snapshot) error { return nil }

// TradeEvent is the payload of events.EventTradeRecorded.
type TradeEvent struct {
	StrategyID string `json:"strategy_id"`
	Trade
}

// SnapshotEvent is the payload of events.EventSnapshot.
type SnapshotEvent struct {
	StrategyID string `json:"strategy_id"`
	Snapshot
	TotalPnL float64 `json:"total_pnl"`
}

var errMissingField = errors.New("missing required field")

// SQL writes trades synchronously and snapshots through a batching writer.
type SQL struct {
	db        *db.Database
	snapshots *SnapshotWriter
	bus       *events.Bus
	log       *zap.Logger
}

var _ Recorder = (*SQL)(nil)

// NewSQL builds the SQLite recorder. bus may be nil.
func NewSQL(d *db.Database, bus *events.Bus, log *zap.Logger) *SQL {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "recorder"))
	return &SQL{
		db:        d,
		snapshots: NewSnapshotWriter(d, 20, 2*time.Second, log),
		bus:       bus,
		log:       log,
	}
}

// WriterMetrics returns the snapshot batching counters.
func (r *SQL) WriterMetrics() WriterMetrics {
	return r.snapshots.Metrics()
}

// RecordTrade stores one fill.
func (r *SQL) RecordTrade(ctx context.Context, strategyID, ownerID string, t Trade) error {
	if err := validateTrade(t); err != nil {
		return err
	}
	if t.Time.IsZero() {
		t.Time = time.Now().UTC()
	}
	row := db.Trade{
		ID:                 uuid.NewString(),
		StrategyInstanceID: strategyID,
		UserID:             ownerID,
		OrderID:            t.OrderID,
		Symbol:             t.Symbol,
		Side:               string(t.Side),
		OrderType:          string(t.Type),
		Price:              t.Price,
		Qty:                t.Qty,
		Fee:                t.Commission,
		FeeAsset:           t.CommissionAsset,
		CreatedAt:          t.Time,
	}
	if err := r.db.CreateTrade(ctx, row); err != nil {
		return fmt.Errorf("record trade for %s: %w", strategyID, err)
	}
	r.log.Info("trade recorded",
		zap.String("strategy_id", strategyID),
		zap.String("side", string(t.Side)),
		zap.Float64("qty", t.Qty),
		zap.Float64("price", t.Price))
	r.bus.Publish(events.EventTradeRecorded, TradeEvent{StrategyID: strategyID, Trade: t})
	return nil
}

// RecordSnapshot queues a snapshot; it reaches the table on the next flush.
func (r *SQL) RecordSnapshot(_ context.Context, strategyID, ownerID string, s Snapshot) error {
	if strategyID == "" {
		return fmt.Errorf("%w: strategy id", errMissingField)
	}
	if s.Time.IsZero() {
		s.Time = time.Now().UTC()
	}
	metrics, err := json.Marshal(map[string]float64{
		"realized_pnl":   s.RealizedPnL,
		"unrealized_pnl": s.UnrealizedPnL,
		"position":       s.Position,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot metrics: %w", err)
	}
	r.snapshots.Add(db.PerformanceSnapshot{
		ID:                 uuid.NewString(),
		StrategyInstanceID: strategyID,
		UserID:             ownerID,
		TakenAt:            s.Time,
		TotalPnL:           s.TotalPnL(),
		RealizedPnL:        s.RealizedPnL,
		UnrealizedPnL:      s.UnrealizedPnL,
		TotalTrades:        s.Trades,
		PositionQty:        s.Position,
		PortfolioValue:     s.PortfolioValue,
		Metrics:            string(metrics),
	})
	r.bus.Publish(events.EventSnapshot, SnapshotEvent{StrategyID: strategyID, Snapshot: s, TotalPnL: s.TotalPnL()})
	return nil
}

// Flush writes queued snapshots now.
func (r *SQL) Flush(ctx context.Context) error {
	return r.snapshots.Flush(ctx)
}

// Close flushes pending snapshots and stops the background writer.
func (r *SQL) Close() error {
	return r.snapshots.Close()
}

func validateTrade(t Trade) error {
	switch {
	case t.Symbol == "":
		return fmt.Errorf("%w: symbol", errMissingField)
	case t.Side == "":
		return fmt.Errorf("%w: side", errMissingField)
	case t.Qty <= 0:
		return fmt.Errorf("%w: quantity", errMissingField)
	case t.Price <= 0:
		return fmt.Errorf("%w: price", errMissingField)
	}
	return nil
}
