package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"tradepilot/pkg/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return NewStore(database.DB)
}

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

func TestLatestBySymbolSupersession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := Signal{
		ID:         uuid.NewString(),
		Symbol:     "ETHUSDT",
		ObservedAt: now.Add(-10 * time.Minute),
		ClosePrice: 2400,
		Leverage:   3,
	}
	newer := Signal{
		ID:             uuid.NewString(),
		Symbol:         "ETHUSDT",
		ObservedAt:     now,
		ClosePrice:     2500,
		EMAGap:         f(0.4),
		RSI4h:          f(55),
		CrossAboveEMA9: b(true),
		Leverage:       5,
	}
	for _, sig := range []Signal{older, newer} {
		if err := store.Insert(ctx, sig); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := store.LatestBySymbol(ctx, "ETHUSDT")
	if err != nil {
		t.Fatalf("LatestBySymbol: %v", err)
	}
	if got.ID != newer.ID {
		t.Fatalf("got signal %s, expected the newer %s", got.ID, newer.ID)
	}
	if got.ClosePrice != 2500 || got.Leverage != 5 {
		t.Fatalf("got %+v, expected newer signal values", got)
	}
}

func TestNilIndicatorsSurviveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sig := Signal{
		ID:         uuid.NewString(),
		Symbol:     "BTCUSDT",
		ObservedAt: time.Now().UTC(),
		ClosePrice: 65000,
		EMAGap:     f(0.4),
		// Everything else deliberately absent.
		Leverage: 2,
	}
	if err := store.Insert(ctx, sig); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.LatestBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("LatestBySymbol: %v", err)
	}
	if got.EMAGap == nil || *got.EMAGap != 0.4 {
		t.Fatalf("EMAGap=%v, expected 0.4", got.EMAGap)
	}
	// Absent indicators must come back nil, never zero.
	if got.RSI4h != nil || got.RSI15m != nil || got.Momentum15 != nil {
		t.Fatalf("absent numeric indicators not nil: %+v", got)
	}
	if got.CrossAboveEMA9 != nil || got.CrossBelowEMA9 != nil {
		t.Fatalf("absent cross flags not nil: %+v", got)
	}
}

func TestLatestBySymbolNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LatestBySymbol(context.Background(), "NOPEUSDT")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
}

func TestActiveSymbolsWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := Signal{ID: uuid.NewString(), Symbol: "ETHUSDT", ObservedAt: now.Add(-time.Minute), ClosePrice: 2500, Leverage: 1}
	stale := Signal{ID: uuid.NewString(), Symbol: "DOGEUSDT", ObservedAt: now.Add(-2 * time.Hour), ClosePrice: 0.1, Leverage: 1}
	for _, sig := range []Signal{fresh, stale} {
		if err := store.Insert(ctx, sig); err != nil {
			t.Fatal(err)
		}
	}

	symbols, err := store.ActiveSymbols(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("ActiveSymbols: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "ETHUSDT" {
		t.Fatalf("symbols=%v, expected only ETHUSDT", symbols)
	}
}
