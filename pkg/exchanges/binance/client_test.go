package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"tradepilot/pkg/exchanges/common"
)

func newTestClient(serverURL string) *Client {
	c := NewClient(common.Credentials{APIKey: "test-key", APISecret: "test-secret"}, nil, time.Second)
	c.baseURL = serverURL
	return c
}

// verifySignature recomputes the HMAC over the request parameters minus the
// signature itself and compares.
func verifySignature(t *testing.T, params url.Values, secret string) {
	t.Helper()
	got := params.Get("signature")
	if got == "" {
		t.Fatal("request has no signature")
	}
	clone := url.Values{}
	for k, vs := range params {
		if k == "signature" {
			continue
		}
		for _, v := range vs {
			clone.Add(k, v)
		}
	}
	if want := sign(clone.Encode(), secret); got != want {
		t.Fatalf("signature=%s, expected %s", got, want)
	}
}

func TestSubmitOrderSignsRequest(t *testing.T) {
	var (
		gotAPIKey string
		gotParams url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/order" {
			t.Errorf("path=%s, expected /fapi/v1/order", r.URL.Path)
		}
		gotAPIKey = r.Header.Get("X-MBX-APIKEY")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotParams = r.PostForm
		fmt.Fprint(w, `{"orderId":987654,"avgPrice":"2501.30"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:   "ETHUSDT",
		Side:     common.SideBuy,
		Qty:      3,
		ClientID: "client-1",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	if gotAPIKey != "test-key" {
		t.Fatalf("X-MBX-APIKEY=%q, expected test-key", gotAPIKey)
	}
	verifySignature(t, gotParams, "test-secret")
	if gotParams.Get("symbol") != "ETHUSDT" || gotParams.Get("side") != "BUY" {
		t.Fatalf("order params wrong: %v", gotParams)
	}
	if gotParams.Get("type") != "MARKET" || gotParams.Get("quantity") != "3" {
		t.Fatalf("order params wrong: %v", gotParams)
	}
	if gotParams.Get("newClientOrderId") != "client-1" {
		t.Fatalf("newClientOrderId=%q", gotParams.Get("newClientOrderId"))
	}
	if gotParams.Get("timestamp") == "" || gotParams.Get("recvWindow") != "5000" {
		t.Fatalf("missing timestamp/recvWindow: %v", gotParams)
	}

	if res.ExchangeOrderID != "987654" {
		t.Fatalf("ExchangeOrderID=%s, expected 987654", res.ExchangeOrderID)
	}
	if res.FilledPrice != 2501.30 {
		t.Fatalf("FilledPrice=%v, expected 2501.30", res.FilledPrice)
	}
}

func TestSubmitOrderReduceOnly(t *testing.T) {
	var gotParams url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotParams = r.PostForm
		fmt.Fprint(w, `{"orderId":1,"avgPrice":"100"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "ETHUSDT", Side: common.SideSell, Qty: 3, ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if gotParams.Get("reduceOnly") != "true" {
		t.Fatalf("reduceOnly=%q, expected true", gotParams.Get("reduceOnly"))
	}
}

func TestSubmitOrderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2019,"msg":"Margin is insufficient."}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideBuy, Qty: 1})

	var orderErr *common.OrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("err=%v, expected OrderError", err)
	}
	if orderErr.Exchange != common.ExchangeBinance || orderErr.Status != http.StatusBadRequest {
		t.Fatalf("OrderError=%+v", orderErr)
	}
}

func TestGetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v2/balance" {
			t.Errorf("path=%s", r.URL.Path)
		}
		verifySignature(t, r.URL.Query(), "test-secret")
		fmt.Fprint(w, `[{"asset":"BNB","availableBalance":"0.5"},{"asset":"USDT","availableBalance":"1000.25"}]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	balance, err := c.GetBalance(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 1000.25 {
		t.Fatalf("balance=%v, expected 1000.25", balance)
	}
}

func TestGetBalanceUnknownAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"asset":"USDT","availableBalance":"1000"}]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	balance, err := c.GetBalance(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance=%v, expected 0 for an unlisted asset", balance)
	}
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "ETHUSDT" {
			t.Errorf("symbol=%q", got)
		}
		// Public endpoint: no auth expected.
		if r.Header.Get("X-MBX-APIKEY") != "" {
			t.Error("public request should not carry the API key")
		}
		fmt.Fprint(w, `{"symbol":"ETHUSDT","price":"2500.10"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	price, err := c.GetPrice(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 2500.10 {
		t.Fatalf("price=%v, expected 2500.10", price)
	}
}

func TestTestnetBaseURL(t *testing.T) {
	live := NewClient(common.Credentials{}, nil, time.Second)
	if live.baseURL != baseURL {
		t.Fatalf("live baseURL=%s", live.baseURL)
	}
	test := NewClient(common.Credentials{Testnet: true}, nil, time.Second)
	if test.baseURL != testnetBaseURL {
		t.Fatalf("testnet baseURL=%s", test.baseURL)
	}
}
