// Package bybit implements the Bybit v5 linear-perpetual adapter.
//
// Authentication follows the v5 scheme: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + payload, with the key and signature
// carried in X-BAPI-* headers rather than the query string.
package bybit

import (
	"bytes"
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
	"time"

	"tradepilot/pkg/exchanges/common"
)

const (
	baseURL        = "https://api.bybit.com"
	testnetBaseURL = "https://api-testnet.bybit.com"

	category   = "linear"
	recvWindow = "5000"
)

// Client handles Bybit v5 for one set of credentials.
type Client struct {
	creds       common.Credentials
	baseURL     string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
}

// NewClient creates a Bybit client. Pass a shared per-venue rate limiter or
// nil for a dedicated one.
func NewClient(creds common.Credentials, rl *common.RateLimiter, timeout time.Duration) *Client {
	base := baseURL
	if creds.Testnet {
		base = testnetBaseURL
	}
	if rl == nil {
		rl = common.NewRateLimiter(5, 5, 600, time.Minute)
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

// apiResponse is the envelope every v5 endpoint returns.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// SubmitOrder places a market order.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	side := "Buy"
	if req.Side == common.SideSell {
		side = "Sell"
	}
	payload := map[string]any{
		"category":  category,
		"symbol":    req.Symbol,
		"side":      side,
		"orderType": "Market",
		"qty":       strconv.FormatFloat(req.Qty, 'f', -1, 64),
	}
	if req.ClientID != "" {
		payload["orderLinkId"] = req.ClientID
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}

	result, err := c.doPost(ctx, "/v5/order/create", payload)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	// v5 acks market orders without a fill price; callers fall back to the
	// price they sized against.
	return common.OrderResult{ExchangeOrderID: resp.OrderID}, nil
}

// GetBalance returns the available balance for asset in the unified account.
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", asset)

	result, err := c.doGet(ctx, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				WalletBalance       string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, fmt.Errorf("decode wallet balance: %w", err)
	}
	for _, acct := range resp.List {
		for _, coin := range acct.Coin {
			if coin.Coin != asset {
				continue
			}
			if v, err := strconv.ParseFloat(coin.AvailableToWithdraw, 64); err == nil {
				return v, nil
			}
			return strconv.ParseFloat(coin.WalletBalance, 64)
		}
	}
	return 0, nil
}

// GetPrice returns the latest traded price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	result, err := c.doGet(ctx, "/v5/market/tickers", params, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, fmt.Errorf("decode tickers: %w", err)
	}
	if len(resp.List) == 0 {
		return 0, fmt.Errorf("bybit: no ticker for %s", symbol)
	}
	return strconv.ParseFloat(resp.List[0].LastPrice, 64)
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values, signed bool) (json.RawMessage, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	if signed {
		c.signRequest(req, query)
	}
	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, path string, payload map[string]any) (json.RawMessage, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.signRequest(req, string(body))
	return c.do(req)
}

// signRequest attaches the v5 auth headers. payload is the encoded query
// string for GET and the raw JSON body for POST.
func (c *Client) signRequest(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := timestamp + c.creds.APIKey + recvWindow + payload

	h := hmac.New(sha256.New, []byte(c.creds.APISecret))
	h.Write([]byte(message))

	req.Header.Set("X-BAPI-API-KEY", c.creds.APIKey)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(h.Sum(nil)))
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &common.OrderError{Exchange: common.ExchangeBybit, Status: res.StatusCode, Message: string(body)}
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, &common.OrderError{Exchange: common.ExchangeBybit, Status: resp.RetCode, Message: resp.RetMsg}
	}
	return resp.Result, nil
}
