package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-runner/pkg/exchanges/common"
)

// Binance error codes that mean the order id is unknown.
const (
	codeCancelRejected = -2011
	codeNoSuchOrder    = -2013
)

var errNoCredentials = errors.New("binance: API key/secret required")

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string // overrides the testnet/mainnet default
	RecvWindow int64  // ms
	Logger     *zap.Logger
}

// Client is a Binance spot REST client implementing common.Gateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	log         *zap.Logger
}

var _ common.Gateway = (*Client)(nil)

// New builds a client. Public endpoints work without credentials.
func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	client := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With(zap.String("venue", "binance_spot")),
	}
	client.timeSync = common.NewTimeSync(client.ServerTime, client.log)
	// 6000 weight/min for spot; pace at 10 req/s with a small burst.
	client.rateLimiter = common.NewRateLimiter(6000, time.Minute, 10, 20, client.log)
	return client
}

// StartTimeSync keeps the signing clock aligned until ctx is done.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// APIError is a non-2xx response carrying Binance's error code.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance status %d code %d: %s", e.Status, e.Code, e.Msg)
}

// Is lets errors.Is match unknown-order codes against common.ErrOrderNotFound.
func (e *APIError) Is(target error) bool {
	if target == common.ErrOrderNotFound {
		return e.Code == codeCancelRejected || e.Code == codeNoSuchOrder
	}
	if target == common.ErrInsufficientBalance {
		return e.Code == -2010 && strings.Contains(strings.ToLower(e.Msg), "insufficient balance")
	}
	return false
}

func (c *Client) hasCredentials() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

func (c *Client) timestamp() string {
	ts := time.Now().UnixMilli()
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		ts = c.timeSync.Now()
	}
	return strconv.FormatInt(ts, 10)
}

// doSigned signs the query and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if !c.hasCredentials() {
		return nil, errNoCredentials
	}
	params.Set("timestamp", c.timestamp())
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))
	return c.do(ctx, method, path, params, true)
}

// doPublic performs an unsigned request.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, false)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	encoded := params.Encode()

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		// Binance expects GET/DELETE params in the query string.
		if encoded != "" {
			endpoint += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if res.StatusCode >= 300 {
		apiErr := &APIError{Status: res.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return nil, apiErr
	}
	return body, nil
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// parseDecimal converts Binance's string-encoded numbers; malformed input yields zero.
func parseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// formatDecimal renders a float without exponent and without float noise.
func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}
