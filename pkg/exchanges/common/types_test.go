package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvgFillPrice(t *testing.T) {
	tests := []struct {
		name  string
		order Order
		want  float64
	}{
		{
			name: "weighted fills",
			order: Order{Fills: []Fill{
				{Price: 100, Qty: 1},
				{Price: 110, Qty: 3},
			}},
			want: 107.5,
		},
		{
			name:  "cumulative quote fallback",
			order: Order{ExecutedQty: 2, CumQuote: 210},
			want:  105,
		},
		{
			name:  "limit price fallback",
			order: Order{Price: 99},
			want:  99,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.order.AvgFillPrice(), 1e-9)
		})
	}
}

func TestCommissionSumsFills(t *testing.T) {
	o := Order{Fills: []Fill{
		{Commission: 0.1, CommissionAsset: "USDT"},
		{Commission: 0.2, CommissionAsset: "USDT"},
	}}
	total, asset := o.Commission()
	assert.InDelta(t, 0.3, total, 1e-12)
	assert.Equal(t, "USDT", asset)
}

func TestSplitSymbol(t *testing.T) {
	base, quote, ok := SplitSymbol("btcusdt")
	assert.True(t, ok)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	base, quote, ok = SplitSymbol("ETHBTC")
	assert.True(t, ok)
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "BTC", quote)

	_, _, ok = SplitSymbol("USDT")
	assert.False(t, ok)
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     OrderRequest
		wantErr bool
	}{
		{"market by quote", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket, QuoteQty: 100}, false},
		{"market without size", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket}, true},
		{"limit without price", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: OrderTypeLimit, Qty: 1}, true},
		{"limit ok", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: OrderTypeLimit, Qty: 1, Price: 10}, false},
		{"missing symbol", OrderRequest{Side: SideSell, Type: OrderTypeLimit, Qty: 1, Price: 10}, true},
		{"bad side", OrderRequest{Symbol: "BTCUSDT", Side: "HOLD", Type: OrderTypeMarket, Qty: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
