package common

import (
	"strings"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the mirrored side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the order types strategies submit.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const TIFGTC TimeInForce = "GTC" // Good Till Cancelled

// OrderStatus mirrors the exchange order lifecycle.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusUnknown         OrderStatus = "UNKNOWN"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64 // base quantity
	QuoteQty    float64 // quote amount for MARKET orders, used when Qty is zero
	Price       float64 // required for LIMIT
	TimeInForce TimeInForce
	ClientID    string // optional client order id
}

// Fill is one execution leg of an order.
type Fill struct {
	TradeID         string
	Price           float64
	Qty             float64
	Commission      float64
	CommissionAsset string
}

// Order is the exchange view of an order, returned by placement and status queries.
type Order struct {
	ID          string
	ClientID    string
	Symbol      string
	Side        Side
	Type        OrderType
	Price       float64 // limit price; zero for market orders
	Qty         float64 // requested base quantity
	ExecutedQty float64
	CumQuote    float64 // cumulative quote filled
	Status      OrderStatus
	Fills       []Fill
	UpdatedAt   time.Time
}

// AvgFillPrice returns the quantity-weighted fill price, falling back to the
// cumulative quote ratio and finally the limit price.
func (o Order) AvgFillPrice() float64 {
	var qty, notional float64
	for _, f := range o.Fills {
		qty += f.Qty
		notional += f.Qty * f.Price
	}
	if qty > 0 {
		return notional / qty
	}
	if o.ExecutedQty > 0 && o.CumQuote > 0 {
		return o.CumQuote / o.ExecutedQty
	}
	return o.Price
}

// Commission sums fill commissions; the asset is taken from the first fill.
func (o Order) Commission() (float64, string) {
	var total float64
	var asset string
	for _, f := range o.Fills {
		total += f.Commission
		if asset == "" {
			asset = f.CommissionAsset
		}
	}
	return total, asset
}

// Balance is the free/locked amount of one asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total returns free plus locked.
func (b Balance) Total() float64 { return b.Free + b.Locked }

// Kline is one OHLCV bar.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

var knownQuotes = []string{"USDT", "FDUSD", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY"}

// SplitSymbol splits a concatenated spot symbol such as BTCUSDT into base and quote.
// ok is false when no known quote suffix matches.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(symbol)
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return s, "", false
}
