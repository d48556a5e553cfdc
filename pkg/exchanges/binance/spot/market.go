package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"strategy-runner/pkg/exchanges/common"
)

const maxKlinesPerRequest = 1000

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.doPublic(ctx, "/api/v3/ping", url.Values{}); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ServerTime fetches server time (ms).
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/api/v3/time", url.Values{})
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return res.ServerTime, nil
}

// GetPrice returns the latest traded price.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	var res struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	price := parseDecimal(res.Price)
	if price <= 0 {
		return 0, fmt.Errorf("%w: %s", common.ErrNoPrice, symbol)
	}
	return price, nil
}

// GetKlines returns up to limit bars (capped at 1000) starting at start.
// Zero start/end are omitted so the venue returns the most recent bars.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]common.Kline, error) {
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}

	body, err := c.doPublic(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}
	return decodeKlines(body)
}

// decodeKlines parses Binance's positional kline arrays.
func decodeKlines(body []byte) ([]common.Kline, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]common.Kline, 0, len(raw))
	for i, row := range raw {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline %d: expected >= 7 fields, got %d", i, len(row))
		}
		var openTime, closeTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			return nil, fmt.Errorf("kline %d close time: %w", i, err)
		}
		var fields [5]string
		for j := range fields {
			if err := json.Unmarshal(row[j+1], &fields[j]); err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
		}
		out = append(out, common.Kline{
			OpenTime:  time.UnixMilli(openTime).UTC(),
			CloseTime: time.UnixMilli(closeTime).UTC(),
			Open:      parseDecimal(fields[0]),
			High:      parseDecimal(fields[1]),
			Low:       parseDecimal(fields[2]),
			Close:     parseDecimal(fields[3]),
			Volume:    parseDecimal(fields[4]),
		})
	}
	return out, nil
}
