package monitor

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"tradepilot/internal/credentials"
	"tradepilot/internal/events"
	"tradepilot/internal/trade"
	"tradepilot/pkg/crypto"
	"tradepilot/pkg/db"
	"tradepilot/pkg/exchanges/common"
)

func TestCheckExit(t *testing.T) {
	long := trade.Trade{Side: common.SideBuy, EntryPrice: 100, TakeProfit: 102.5, StopLoss: 90}
	short := trade.Trade{Side: common.SideSell, EntryPrice: 100, TakeProfit: 97.5, StopLoss: 110}

	tests := []struct {
		name       string
		trade      trade.Trade
		price      float64
		wantReason trade.ExitReason
		wantHit    bool
	}{
		{"long above tp", long, 103, trade.ExitTakeProfit, true},
		{"long exactly tp", long, 102.5, trade.ExitTakeProfit, true},
		{"long between", long, 100, "", false},
		{"long exactly sl", long, 90, trade.ExitStopLoss, true},
		{"long below sl", long, 85, trade.ExitStopLoss, true},
		{"short below tp", short, 97, trade.ExitTakeProfit, true},
		{"short between", short, 100, "", false},
		{"short above sl", short, 111, trade.ExitStopLoss, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, hit := CheckExit(tt.trade, tt.price)
			if hit != tt.wantHit {
				t.Fatalf("hit=%v, expected %v", hit, tt.wantHit)
			}
			if reason != tt.wantReason {
				t.Fatalf("reason=%q, expected %q", reason, tt.wantReason)
			}
		})
	}
}

type fakeGateway struct {
	mu     sync.Mutex
	price  float64
	orders []common.OrderRequest
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	return common.OrderResult{ExchangeOrderID: "close-1", FilledPrice: g.price}, nil
}

func (g *fakeGateway) GetBalance(ctx context.Context, asset string) (float64, error) {
	return 0, nil
}

func (g *fakeGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return g.price, nil
}

type fakeBuilder struct {
	gw *fakeGateway
}

func (b *fakeBuilder) Build(exchange common.Exchange, creds common.Credentials) (common.Gateway, error) {
	return b.gw, nil
}

func newScanFixture(t *testing.T) (*Monitor, *trade.Store, *fakeGateway) {
	t.Helper()

	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("CREDENTIAL_KEY", base64.StdEncoding.EncodeToString(key))

	km, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("key manager: %v", err)
	}
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	trades := trade.NewStore(database.DB)
	resolver := credentials.NewResolver(database.DB, km)
	if err := resolver.Save(context.Background(), uuid.NewString(), "u1", common.ExchangeBinance, false, "k", "s"); err != nil {
		t.Fatalf("save credentials: %v", err)
	}

	gw := &fakeGateway{}
	mon := New(trades, resolver, &fakeBuilder{gw: gw}, events.NewBus(), time.Minute, 5*time.Second)
	return mon, trades, gw
}

func openLong(t *testing.T, trades *trade.Store) trade.Trade {
	t.Helper()
	tr := trade.Trade{
		ID:         uuid.NewString(),
		UserID:     "u1",
		Exchange:   common.ExchangeBinance,
		Symbol:     "ETHUSDT",
		Side:       common.SideBuy,
		Qty:        3,
		EntryPrice: 500,
		TakeProfit: 512.5,
		StopLoss:   450,
		Leverage:   5,
	}
	if err := trades.Record(context.Background(), tr); err != nil {
		t.Fatalf("record trade: %v", err)
	}
	return tr
}

func TestScanClosesOnTakeProfit(t *testing.T) {
	mon, trades, gw := newScanFixture(t)
	tr := openLong(t, trades)
	gw.price = 515

	mon.Scan(context.Background())

	if len(gw.orders) != 1 {
		t.Fatalf("got %d closing orders, expected 1", len(gw.orders))
	}
	order := gw.orders[0]
	if order.Side != common.SideSell {
		t.Fatalf("closing side=%s, expected SELL for a long", order.Side)
	}
	if !order.ReduceOnly {
		t.Fatal("closing order must be reduce-only")
	}
	if order.Qty != tr.Qty {
		t.Fatalf("closing qty=%v, expected %v", order.Qty, tr.Qty)
	}

	history, err := trades.ListByUser(context.Background(), "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	got := history[0]
	if got.Status != trade.StatusClosed {
		t.Fatalf("Status=%s, expected closed", got.Status)
	}
	if got.ExitReason == nil || *got.ExitReason != trade.ExitTakeProfit {
		t.Fatalf("ExitReason=%v, expected take_profit", got.ExitReason)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 515 {
		t.Fatalf("ExitPrice=%v, expected 515", got.ExitPrice)
	}
}

func TestScanClosesOnStopLoss(t *testing.T) {
	mon, trades, gw := newScanFixture(t)
	openLong(t, trades)
	gw.price = 440

	mon.Scan(context.Background())

	history, err := trades.ListByUser(context.Background(), "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	got := history[0]
	if got.Status != trade.StatusClosed {
		t.Fatalf("Status=%s, expected closed", got.Status)
	}
	if got.ExitReason == nil || *got.ExitReason != trade.ExitStopLoss {
		t.Fatalf("ExitReason=%v, expected stop_loss", got.ExitReason)
	}
}

func TestScanLeavesUntriggeredTradesOpen(t *testing.T) {
	mon, trades, gw := newScanFixture(t)
	openLong(t, trades)
	gw.price = 505

	mon.Scan(context.Background())

	if len(gw.orders) != 0 {
		t.Fatalf("got %d orders, expected none while inside the band", len(gw.orders))
	}
	open, err := trades.AllOpen(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("open=%d, expected the trade to stay open", len(open))
	}
}

// networkBuilder hands out a different gateway per network, the way the real
// factory builds against testnet or live base URLs.
type networkBuilder struct {
	live    *fakeGateway
	testnet *fakeGateway
}

func (b *networkBuilder) Build(exchange common.Exchange, creds common.Credentials) (common.Gateway, error) {
	if creds.Testnet {
		return b.testnet, nil
	}
	return b.live, nil
}

func TestScanPricesEachNetworkSeparately(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("CREDENTIAL_KEY", base64.StdEncoding.EncodeToString(key))

	km, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("key manager: %v", err)
	}
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	trades := trade.NewStore(database.DB)
	resolver := credentials.NewResolver(database.DB, km)
	ctx := context.Background()
	if err := resolver.Save(ctx, uuid.NewString(), "u1", common.ExchangeBinance, false, "k", "s"); err != nil {
		t.Fatalf("save live credentials: %v", err)
	}
	if err := resolver.Save(ctx, uuid.NewString(), "u1", common.ExchangeBinance, true, "tk", "ts"); err != nil {
		t.Fatalf("save testnet credentials: %v", err)
	}

	// The testnet quote is past the take-profit, the live quote is inside the
	// band. Same exchange and symbol on both networks.
	live := &fakeGateway{price: 505}
	testnet := &fakeGateway{price: 600}
	mon := New(trades, resolver, &networkBuilder{live: live, testnet: testnet}, events.NewBus(), time.Minute, 5*time.Second)

	mk := func(testnet bool) trade.Trade {
		return trade.Trade{
			ID:         uuid.NewString(),
			UserID:     "u1",
			Exchange:   common.ExchangeBinance,
			Testnet:    testnet,
			Symbol:     "ETHUSDT",
			Side:       common.SideBuy,
			Qty:        3,
			EntryPrice: 500,
			TakeProfit: 512.5,
			StopLoss:   450,
			Leverage:   5,
		}
	}
	testnetTrade := mk(true)
	liveTrade := mk(false)
	if err := trades.Record(ctx, testnetTrade); err != nil {
		t.Fatal(err)
	}
	if err := trades.Record(ctx, liveTrade); err != nil {
		t.Fatal(err)
	}

	mon.Scan(ctx)

	open, err := trades.AllOpen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("open=%d, expected only the live trade to stay open", len(open))
	}
	if open[0].ID != liveTrade.ID {
		t.Fatalf("open trade %s, expected the live trade %s; its network's quote never crossed the band", open[0].ID, liveTrade.ID)
	}
	if len(live.orders) != 0 {
		t.Fatalf("live gateway received %d orders, expected none", len(live.orders))
	}
	if len(testnet.orders) != 1 {
		t.Fatalf("testnet gateway received %d orders, expected 1", len(testnet.orders))
	}

	history, err := trades.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range history {
		if tr.ID != testnetTrade.ID {
			continue
		}
		if tr.ExitPrice == nil || *tr.ExitPrice != 600 {
			t.Fatalf("ExitPrice=%v, expected the testnet quote 600", tr.ExitPrice)
		}
	}
}

func TestScanSkipsTradesWithoutCredentials(t *testing.T) {
	mon, trades, gw := newScanFixture(t)

	// A trade held by a user whose keys were removed.
	tr := trade.Trade{
		ID:         uuid.NewString(),
		UserID:     "gone",
		Exchange:   common.ExchangeBinance,
		Symbol:     "ETHUSDT",
		Side:       common.SideBuy,
		Qty:        1,
		EntryPrice: 500,
		TakeProfit: 512.5,
		StopLoss:   450,
		Leverage:   5,
	}
	if err := trades.Record(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	gw.price = 600

	mon.Scan(context.Background())

	if len(gw.orders) != 0 {
		t.Fatal("no order should be placed without credentials")
	}
	open, err := trades.AllOpen(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatal("the trade must stay open and unmodified")
	}
}
