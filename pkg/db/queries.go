package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrStrategyIDEmpty = errors.New("strategy_instance_id is required")
)

// ----------------------------------------
// Strategy instances
// ----------------------------------------

// UpsertStrategyInstance inserts or replaces a strategy definition.
func (d *Database) UpsertStrategyInstance(ctx context.Context, s StrategyInstance) error {
	if s.ID == "" {
		return ErrStrategyIDEmpty
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_instances (id, name, strategy_type, symbol, parameters, user_id, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			strategy_type = excluded.strategy_type,
			symbol = excluded.symbol,
			parameters = excluded.parameters,
			user_id = excluded.user_id,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, s.ID, s.Name, s.StrategyType, s.Symbol, s.Parameters, s.UserID, s.IsActive)
	if err != nil {
		return fmt.Errorf("upsert strategy %s: %w", s.ID, err)
	}
	return nil
}

const strategyColumns = `id, name, strategy_type, symbol, parameters, COALESCE(user_id, ''), is_active, created_at, updated_at`

func scanStrategy(row interface{ Scan(...any) error }) (StrategyInstance, error) {
	var s StrategyInstance
	err := row.Scan(&s.ID, &s.Name, &s.StrategyType, &s.Symbol, &s.Parameters, &s.UserID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// GetStrategyInstance loads one strategy definition.
func (d *Database) GetStrategyInstance(ctx context.Context, id string) (*StrategyInstance, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategy_instances WHERE id = ?`, id)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy %s: %w", id, err)
	}
	return &s, nil
}

// ListStrategyInstances returns every strategy definition ordered by id.
func (d *Database) ListStrategyInstances(ctx context.Context) ([]StrategyInstance, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategy_instances ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var out []StrategyInstance
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateStrategyParameters replaces the stored parameter JSON.
func (d *Database) UpdateStrategyParameters(ctx context.Context, id, params string) error {
	return d.updateStrategy(ctx, `UPDATE strategy_instances SET parameters = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, params, id)
}

// SetStrategyActive toggles the active flag.
func (d *Database) SetStrategyActive(ctx context.Context, id string, active bool) error {
	return d.updateStrategy(ctx, `UPDATE strategy_instances SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, active, id)
}

func (d *Database) updateStrategy(ctx context.Context, query string, value any, id string) error {
	res, err := d.DB.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("update strategy %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// Trades
// ----------------------------------------

// CreateTrade inserts a new trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	if t.StrategyInstanceID == "" {
		return ErrStrategyIDEmpty
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, strategy_instance_id, user_id, order_id, symbol, side, order_type, price, qty, fee, fee_asset, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.StrategyInstanceID, t.UserID, t.OrderID, t.Symbol, t.Side, t.OrderType, t.Price, t.Qty, t.Fee, t.FeeAsset, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTradesByStrategy returns the newest trades of one strategy first.
func (d *Database) ListTradesByStrategy(ctx context.Context, strategyID string, limit int) ([]Trade, error) {
	if strategyID == "" {
		return nil, ErrStrategyIDEmpty
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, strategy_instance_id, COALESCE(user_id, ''), COALESCE(order_id, ''), symbol, side,
		       order_type, price, qty, COALESCE(fee, 0), COALESCE(fee_asset, ''), created_at
		FROM trades
		WHERE strategy_instance_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.StrategyInstanceID, &t.UserID, &t.OrderID, &t.Symbol, &t.Side,
			&t.OrderType, &t.Price, &t.Qty, &t.Fee, &t.FeeAsset, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Performance snapshots
// ----------------------------------------

// CreateSnapshots inserts snapshots in one transaction.
func (d *Database) CreateSnapshots(ctx context.Context, snaps []PerformanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO performance_snapshots (
			id, strategy_instance_id, user_id, taken_at, total_pnl, realized_pnl, unrealized_pnl,
			total_trades, position_qty, portfolio_value, metrics
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range snaps {
		if s.StrategyInstanceID == "" {
			_ = tx.Rollback()
			return ErrStrategyIDEmpty
		}
		if _, err := stmt.ExecContext(ctx, s.ID, s.StrategyInstanceID, s.UserID, s.TakenAt, s.TotalPnL,
			s.RealizedPnL, s.UnrealizedPnL, s.TotalTrades, s.PositionQty, s.PortfolioValue, s.Metrics); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// LatestSnapshot returns the most recent snapshot of a strategy.
func (d *Database) LatestSnapshot(ctx context.Context, strategyID string) (*PerformanceSnapshot, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, strategy_instance_id, COALESCE(user_id, ''), taken_at, total_pnl, realized_pnl,
		       unrealized_pnl, total_trades, position_qty, portfolio_value, COALESCE(metrics, '')
		FROM performance_snapshots
		WHERE strategy_instance_id = ?
		ORDER BY taken_at DESC, rowid DESC
		LIMIT 1
	`, strategyID)
	var s PerformanceSnapshot
	err := row.Scan(&s.ID, &s.StrategyInstanceID, &s.UserID, &s.TakenAt, &s.TotalPnL, &s.RealizedPnL,
		&s.UnrealizedPnL, &s.TotalTrades, &s.PositionQty, &s.PortfolioValue, &s.Metrics)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &s, nil
}
