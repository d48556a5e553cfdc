package db

import "time"

// StrategyInstance represents a configured strategy row.
type StrategyInstance struct {
	ID           string
	Name         string
	StrategyType string
	Symbol       string
	Parameters   string // JSON object
	UserID       string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Trade represents a fill stored in the DB.
type Trade struct {
	ID                 string
	StrategyInstanceID string
	UserID             string
	OrderID            string
	Symbol             string
	Side               string
	OrderType          string
	Price              float64
	Qty                float64
	Fee                float64
	FeeAsset           string
	CreatedAt          time.Time
}

// PerformanceSnapshot is a point-in-time PnL record for one strategy.
type PerformanceSnapshot struct {
	ID                 string
	StrategyInstanceID string
	UserID             string
	TakenAt            time.Time
	TotalPnL           float64
	RealizedPnL        float64
	UnrealizedPnL      float64
	TotalTrades        int
	PositionQty        float64
	PortfolioValue     float64
	Metrics            string // JSON object
}
