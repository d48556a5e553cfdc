package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"strategy-runner/pkg/exchanges/common"
)

type fillResponse struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

// orderResponse covers both the FULL placement ack and order queries.
type orderResponse struct {
	Symbol              string         `json:"symbol"`
	OrderID             int64          `json:"orderId"`
	ClientOrderID       string         `json:"clientOrderId"`
	Price               string         `json:"price"`
	OrigQty             string         `json:"origQty"`
	ExecutedQty         string         `json:"executedQty"`
	CummulativeQuoteQty string         `json:"cummulativeQuoteQty"`
	Status              string         `json:"status"`
	Type                string         `json:"type"`
	Side                string         `json:"side"`
	TransactTime        int64          `json:"transactTime"`
	UpdateTime          int64          `json:"updateTime"`
	Fills               []fillResponse `json:"fills"`
}

func (r orderResponse) toOrder() common.Order {
	o := common.Order{
		ID:          strconv.FormatInt(r.OrderID, 10),
		ClientID:    r.ClientOrderID,
		Symbol:      r.Symbol,
		Side:        common.Side(strings.ToUpper(r.Side)),
		Type:        common.OrderType(strings.ToUpper(r.Type)),
		Price:       parseDecimal(r.Price),
		Qty:         parseDecimal(r.OrigQty),
		ExecutedQty: parseDecimal(r.ExecutedQty),
		CumQuote:    parseDecimal(r.CummulativeQuoteQty),
		Status:      mapStatus(r.Status),
	}
	ts := r.UpdateTime
	if ts == 0 {
		ts = r.TransactTime
	}
	if ts > 0 {
		o.UpdatedAt = time.UnixMilli(ts)
	}
	for _, f := range r.Fills {
		o.Fills = append(o.Fills, common.Fill{
			TradeID:         strconv.FormatInt(f.TradeID, 10),
			Price:           parseDecimal(f.Price),
			Qty:             parseDecimal(f.Qty),
			Commission:      parseDecimal(f.Commission),
			CommissionAsset: f.CommissionAsset,
		})
	}
	return o
}

// PlaceOrder submits a MARKET or LIMIT order and returns the FULL ack.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if err := common.ValidateRequest(req); err != nil {
		return common.Order{}, err
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("newOrderRespType", "FULL")

	switch req.Type {
	case common.OrderTypeLimit:
		params.Set("quantity", formatDecimal(req.Qty))
		params.Set("price", formatDecimal(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	case common.OrderTypeMarket:
		if req.Qty > 0 {
			params.Set("quantity", formatDecimal(req.Qty))
		} else {
			params.Set("quoteOrderQty", formatDecimal(req.QuoteQty))
		}
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.Order{}, fmt.Errorf("place order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode order response: %w", err)
	}
	return resp.toOrder(), nil
}

// CancelOrder cancels one order. Unknown ids surface as common.ErrOrderNotFound.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	if _, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOrder fetches a single order by symbol and orderId.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (common.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return common.Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toOrder(), nil
}

// GetOpenOrders returns current open orders; if symbol is empty, all symbols.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	orders := make([]common.Order, 0, len(resp))
	for _, r := range resp {
		orders = append(orders, r.toOrder())
	}
	return orders, nil
}

type accountResponse struct {
	CanTrade bool `json:"canTrade"`
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetBalance returns the free/locked amount of one asset; unknown assets are zero.
func (c *Client) GetBalance(ctx context.Context, asset string) (common.Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return common.Balance{}, fmt.Errorf("account: %w", err)
	}
	var info accountResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return common.Balance{}, fmt.Errorf("decode account info: %w", err)
	}
	asset = strings.ToUpper(asset)
	for _, b := range info.Balances {
		if b.Asset == asset {
			return common.Balance{Asset: asset, Free: parseDecimal(b.Free), Locked: parseDecimal(b.Locked)}, nil
		}
	}
	return common.Balance{Asset: asset}, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PENDING_NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartiallyFilled
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}
