package gateway

import (
	"testing"
	"time"

	"tradepilot/pkg/exchanges/binance"
	"tradepilot/pkg/exchanges/bybit"
	"tradepilot/pkg/exchanges/common"
)

func TestBuildDispatchesOnExchange(t *testing.T) {
	f := NewFactory(5, time.Second)
	creds := common.Credentials{APIKey: "k", APISecret: "s"}

	gw, err := f.Build(common.ExchangeBinance, creds)
	if err != nil {
		t.Fatalf("Build(binance): %v", err)
	}
	if _, ok := gw.(*binance.Client); !ok {
		t.Fatalf("got %T, expected *binance.Client", gw)
	}

	gw, err = f.Build(common.ExchangeBybit, creds)
	if err != nil {
		t.Fatalf("Build(bybit): %v", err)
	}
	if _, ok := gw.(*bybit.Client); !ok {
		t.Fatalf("got %T, expected *bybit.Client", gw)
	}
}

func TestBuildRejectsUnknownExchange(t *testing.T) {
	f := NewFactory(5, time.Second)

	if _, err := f.Build(common.Exchange("mtgox"), common.Credentials{}); err == nil {
		t.Fatal("expected an error for an unknown venue")
	}
}
