// Package marketdata derives the macro context consumed by the rule engine.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradepilot/internal/rules"
)

// ErrDataUnavailable signals that macro context could not be fetched. Callers
// must fail closed: no entries are evaluated on this error, never a
// permissive default.
var ErrDataUnavailable = errors.New("market data unavailable")

const (
	atrPeriod    = 30
	volumePeriod = 30
	btcSymbol    = "BTCUSDT"
)

// Provider fetches the fear-greed index and derives BTC ATR%/volume-ratio
// from venue klines.
type Provider struct {
	fearGreedURL    string
	fearGreedAPIKey string
	klinesURL       string
	httpClient      *http.Client
}

// NewProvider builds a provider. klinesURL may be empty to use the Binance
// public futures API.
func NewProvider(fearGreedURL, fearGreedAPIKey, klinesURL string, timeout time.Duration) *Provider {
	if klinesURL == "" {
		klinesURL = "https://fapi.binance.com/fapi/v1/klines"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		fearGreedURL:    fearGreedURL,
		fearGreedAPIKey: fearGreedAPIKey,
		klinesURL:       klinesURL,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// MacroContext returns the snapshot for one evaluation cycle. Any fetch
// failure wraps ErrDataUnavailable.
func (p *Provider) MacroContext(ctx context.Context) (rules.Context, error) {
	fearGreed, err := p.fetchFearGreed(ctx)
	if err != nil {
		return rules.Context{}, fmt.Errorf("%w: fear-greed: %v", ErrDataUnavailable, err)
	}

	atrPercent, volumeRatio, err := p.fetchBTCIndicators(ctx)
	if err != nil {
		return rules.Context{}, fmt.Errorf("%w: btc indicators: %v", ErrDataUnavailable, err)
	}

	return rules.Context{
		FearGreedValue: fearGreed,
		ATRPercent:     atrPercent,
		VolumeRatio:    volumeRatio,
	}, nil
}

func (p *Provider) fetchFearGreed(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.fearGreedURL, nil)
	if err != nil {
		return 0, err
	}
	if p.fearGreedAPIKey != "" {
		req.Header.Set("X-API-Key", p.fearGreedAPIKey)
	}

	res, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("fear-greed status %d: %s", res.StatusCode, string(b))
	}

	var resp struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, errors.New("empty fear-greed response")
	}
	return strconv.ParseFloat(resp.Data[0].Value, 64)
}

// fetchBTCIndicators computes ATR% over the last 30 hourly candles and the
// ratio of the latest volume to its 30-period average.
func (p *Provider) fetchBTCIndicators(ctx context.Context) (atrPercent, volumeRatio float64, err error) {
	klines, err := p.fetchKlines(ctx, btcSymbol, "1h", atrPeriod+1)
	if err != nil {
		return 0, 0, err
	}
	if len(klines) < atrPeriod+1 {
		return 0, 0, fmt.Errorf("need %d klines, got %d", atrPeriod+1, len(klines))
	}

	// True range averaged over the window, relative to the last close.
	var trSum float64
	for i := 1; i < len(klines); i++ {
		highLow := klines[i].High - klines[i].Low
		highClose := math.Abs(klines[i].High - klines[i-1].Close)
		lowClose := math.Abs(klines[i].Low - klines[i-1].Close)
		trSum += math.Max(highLow, math.Max(highClose, lowClose))
	}
	atr := trSum / float64(len(klines)-1)
	lastClose := klines[len(klines)-1].Close
	if lastClose <= 0 {
		return 0, 0, errors.New("invalid close price")
	}
	atrPercent = atr / lastClose * 100

	var volSum float64
	for i := 1; i < len(klines); i++ {
		volSum += klines[i].Volume
	}
	avgVol := volSum / float64(len(klines)-1)
	if avgVol <= 0 {
		return 0, 0, errors.New("invalid volume average")
	}
	volumeRatio = klines[len(klines)-1].Volume / avgVol

	return atrPercent, volumeRatio, nil
}

type kline struct {
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

func (p *Provider) fetchKlines(ctx context.Context, symbol, interval string, limit int) ([]kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.klinesURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("klines status %d: %s", res.StatusCode, string(b))
	}

	var raw [][]any
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, err
	}

	klines := make([]kline, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline.
		if len(item) < 6 {
			continue
		}
		klines = append(klines, kline{
			High:   toFloat(item[2]),
			Low:    toFloat(item[3]),
			Close:  toFloat(item[4]),
			Volume: toFloat(item[5]),
		})
	}
	return klines, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	}
	return 0
}
