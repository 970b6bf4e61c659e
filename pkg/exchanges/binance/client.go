// Package binance implements the USDT-margined futures adapter.
//
// Requests are authenticated Binance-style: HMAC-SHA256 over the encoded
// query string, signature appended as a parameter, API key in the
// X-MBX-APIKEY header.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradepilot/pkg/exchanges/common"
)

const (
	baseURL        = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	defaultRecvWindow = 5000
)

// Client handles Binance USDT-M futures for one set of credentials.
type Client struct {
	creds       common.Credentials
	baseURL     string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
}

// NewClient creates a Binance futures client. The rate limiter is typically
// shared across all clients for the venue; pass nil to create a dedicated one.
func NewClient(creds common.Credentials, rl *common.RateLimiter, timeout time.Duration) *Client {
	base := baseURL
	if creds.Testnet {
		base = testnetBaseURL
	}
	if rl == nil {
		rl = common.NewRateLimiter(5, 5, 2400, time.Minute)
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		creds:       creds,
		baseURL:     base,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rl,
	}
}

// SubmitOrder places a market order.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatFloat(req.Qty))
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("newOrderRespType", "RESULT")

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp struct {
		OrderID  int64  `json:"orderId"`
		AvgPrice string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	filled, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		FilledPrice:     filled,
	}, nil
}

// GetBalance returns the available balance for asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return 0, err
	}

	var balances []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset == asset {
			return strconv.ParseFloat(b.AvailableBalance, 64)
		}
	}
	return 0, nil
}

// GetPrice returns the latest traded price for symbol. Public endpoint, no
// signature needed.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, err
	}

	u := fmt.Sprintf("%s/fapi/v1/ticker/price?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return 0, &common.OrderError{Exchange: common.ExchangeBinance, Status: res.StatusCode, Message: string(body)}
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	return strconv.ParseFloat(resp.Price, 64)
}

// doSigned handles signing and sending authenticated requests.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(defaultRecvWindow))
	params.Set("signature", sign(params.Encode(), c.creds.APISecret))

	endpoint := c.baseURL + path
	encoded := params.Encode()

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, &common.OrderError{Exchange: common.ExchangeBinance, Status: res.StatusCode, Message: string(body)}
	}
	return body, nil
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
