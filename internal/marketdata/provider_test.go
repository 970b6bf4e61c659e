package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// klineServer returns 31 flat hourly candles so ATR and volume math come out
// to round numbers: every candle spans 100 around close 1000 with volume 50,
// except the last which carries volume 100.
func klineServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("klines symbol=%q, expected BTCUSDT", got)
		}
		var rows []string
		for i := 0; i < 31; i++ {
			volume := 50.0
			if i == 30 {
				volume = 100
			}
			rows = append(rows, fmt.Sprintf(`[0,"1000","1050","950","1000","%g",0,"0",0,"0","0","0"]`, volume))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "["+strings.Join(rows, ",")+"]")
	}))
}

func fearGreedServer(value string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":[{"value":"%s"}]}`, value)
	}))
}

func TestMacroContext(t *testing.T) {
	fg := fearGreedServer("42")
	defer fg.Close()
	kl := klineServer(t)
	defer kl.Close()

	p := NewProvider(fg.URL, "", kl.URL, time.Second)
	ctx, err := p.MacroContext(context.Background())
	if err != nil {
		t.Fatalf("MacroContext: %v", err)
	}

	if ctx.FearGreedValue != 42 {
		t.Fatalf("FearGreedValue=%v, expected 42", ctx.FearGreedValue)
	}
	// True range is 100 on every candle, close 1000, so ATR% is 10.
	if math.Abs(ctx.ATRPercent-10) > 1e-9 {
		t.Fatalf("ATRPercent=%v, expected 10", ctx.ATRPercent)
	}
	// Last volume 100 over a window average of (29*50+100)/30.
	wantRatio := 100.0 / ((29*50.0 + 100) / 30)
	if math.Abs(ctx.VolumeRatio-wantRatio) > 1e-9 {
		t.Fatalf("VolumeRatio=%v, expected %v", ctx.VolumeRatio, wantRatio)
	}
}

func TestMacroContextFailsClosedOnFearGreedError(t *testing.T) {
	fg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer fg.Close()
	kl := klineServer(t)
	defer kl.Close()

	p := NewProvider(fg.URL, "", kl.URL, time.Second)
	_, err := p.MacroContext(context.Background())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err=%v, expected ErrDataUnavailable", err)
	}
}

func TestMacroContextFailsClosedOnKlinesError(t *testing.T) {
	fg := fearGreedServer("42")
	defer fg.Close()
	kl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`) // too few candles
	}))
	defer kl.Close()

	p := NewProvider(fg.URL, "", kl.URL, time.Second)
	_, err := p.MacroContext(context.Background())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err=%v, expected ErrDataUnavailable", err)
	}
}

func TestFetchFearGreedSendsAPIKey(t *testing.T) {
	var gotKey string
	fg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		fmt.Fprint(w, `{"data":[{"value":"55"}]}`)
	}))
	defer fg.Close()

	p := NewProvider(fg.URL, "sekrit", "", time.Second)
	if _, err := p.fetchFearGreed(context.Background()); err != nil {
		t.Fatalf("fetchFearGreed: %v", err)
	}
	if gotKey != "sekrit" {
		t.Fatalf("X-API-Key=%q, expected sekrit", gotKey)
	}
}

func TestFetchFearGreedEmptyPayload(t *testing.T) {
	fg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer fg.Close()

	p := NewProvider(fg.URL, "", "", time.Second)
	if _, err := p.fetchFearGreed(context.Background()); err == nil {
		t.Fatal("expected an error for an empty data array")
	}
}
