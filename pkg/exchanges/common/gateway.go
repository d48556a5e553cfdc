package common

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOrderNotFound is returned when the venue does not know the order id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInsufficientBalance is returned when an order cannot be funded.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNoPrice is returned when no price is known for a symbol.
	ErrNoPrice = errors.New("no price for symbol")
)

// KlineSource serves historical bars. limit <= 0 lets the venue choose.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]Kline, error)
}

// Gateway abstracts a spot trading venue.
type Gateway interface {
	KlineSource

	Ping(ctx context.Context) error
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	GetBalance(ctx context.Context, asset string) (Balance, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// ValidateRequest rejects requests that no venue would accept.
func ValidateRequest(req OrderRequest) error {
	if req.Symbol == "" {
		return errors.New("symbol is required")
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("invalid side %q", req.Side)
	}
	switch req.Type {
	case OrderTypeMarket:
		if req.Qty <= 0 && req.QuoteQty <= 0 {
			return errors.New("market order needs a quantity or quote amount")
		}
	case OrderTypeLimit:
		if req.Qty <= 0 {
			return errors.New("limit order needs a positive quantity")
		}
		if req.Price <= 0 {
			return errors.New("limit order needs a positive price")
		}
	default:
		return fmt.Errorf("unsupported order type %q", req.Type)
	}
	return nil
}
