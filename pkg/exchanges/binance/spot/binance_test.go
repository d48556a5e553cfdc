package spot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-runner/pkg/exchanges/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL})
}

func TestPlaceOrderParsesFullAck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.Equal(t, "MARKET", r.PostForm.Get("type"))
		assert.Equal(t, "100", r.PostForm.Get("quoteOrderQty"))
		assert.Empty(t, r.PostForm.Get("quantity"))
		assert.NotEmpty(t, r.PostForm.Get("signature"))

		w.Header().Set("X-MBX-USED-WEIGHT-1M", "3")
		_, _ = w.Write([]byte(`{
			"symbol":"BTCUSDT","orderId":42,"clientOrderId":"c1","price":"0.00000000",
			"origQty":"0.00200000","executedQty":"0.00200000","cummulativeQuoteQty":"100.00000000",
			"status":"FILLED","type":"MARKET","side":"BUY","transactTime":1700000000000,
			"fills":[
				{"price":"49990.00","qty":"0.001","commission":"0.05","commissionAsset":"USDT","tradeId":7},
				{"price":"50010.00","qty":"0.001","commission":"0.05","commissionAsset":"USDT","tradeId":8}
			]}`))
	})

	o, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, QuoteQty: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", o.ID)
	assert.Equal(t, common.StatusFilled, o.Status)
	assert.InDelta(t, 0.002, o.ExecutedQty, 1e-12)
	assert.InDelta(t, 50000, o.AvgFillPrice(), 1e-6)
	fee, asset := o.Commission()
	assert.InDelta(t, 0.1, fee, 1e-12)
	assert.Equal(t, "USDT", asset)

	used, _, _ := c.rateLimiter.Usage()
	assert.Equal(t, 3, used)
}

func TestPlaceLimitOrderSendsPriceAndTIF(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "LIMIT", r.PostForm.Get("type"))
		assert.Equal(t, "0.3", r.PostForm.Get("quantity"))
		assert.Equal(t, "105.5", r.PostForm.Get("price"))
		assert.Equal(t, "GTC", r.PostForm.Get("timeInForce"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":9,"status":"NEW","side":"SELL","type":"LIMIT","price":"105.5","origQty":"0.3","executedQty":"0"}`))
	})

	o, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeLimit, Qty: 0.3, Price: 105.5,
	})
	require.NoError(t, err)
	assert.Equal(t, common.StatusNew, o.Status)
	assert.Zero(t, o.ExecutedQty)
}

func TestUnknownOrderMapsToErrOrderNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if r.Method == http.MethodDelete {
			_, _ = w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	})

	_, err := c.GetOrder(context.Background(), "BTCUSDT", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrOrderNotFound))

	err = c.CancelOrder(context.Background(), "BTCUSDT", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrOrderNotFound))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -2011, apiErr.Code)
}

func TestSignedCallsRequireCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.GetBalance(context.Background(), "USDT")
	assert.ErrorIs(t, err, errNoCredentials)
}

func TestGetBalanceFindsAsset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		_, _ = w.Write([]byte(`{"canTrade":true,"balances":[
			{"asset":"BTC","free":"0.5","locked":"0.1"},
			{"asset":"USDT","free":"1000","locked":"0"}]}`))
	})

	b, err := c.GetBalance(context.Background(), "btc")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, b.Free, 1e-12)
	assert.InDelta(t, 0.6, b.Total(), 1e-12)

	b, err = c.GetBalance(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Zero(t, b.Total())
}

func TestGetKlinesDecodesRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1h", q.Get("interval"))
		assert.Equal(t, "2", q.Get("limit"))
		assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","110.0","95.0","105.0","12.5",1700003599999,"0",1,"0","0","0"],
			[1700003600000,"105.0","108.0","101.0","107.0","8.0",1700007199999,"0",1,"0","0","0"]]`))
	})

	bars, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(1700000000000), bars[0].OpenTime.UnixMilli())
	assert.InDelta(t, 95.0, bars[0].Low, 1e-12)
	assert.InDelta(t, 107.0, bars[1].Close, 1e-12)
}

func TestGetPriceAndPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ping":
			_, _ = w.Write([]byte(`{}`))
		case "/api/v3/ticker/price":
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"50123.45"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	require.NoError(t, c.Ping(context.Background()))
	p, err := c.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 50123.45, p, 1e-9)
}
