package common

// Exchange identifies a supported trading venue. Keeping this a closed set
// lets adapter selection be checked at compile time instead of string dispatch.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBybit   Exchange = "bybit"
)

// Exchanges lists every supported venue.
func Exchanges() []Exchange {
	return []Exchange{ExchangeBinance, ExchangeBybit}
}

// Valid reports whether e names a supported venue.
func (e Exchange) Valid() bool {
	switch e {
	case ExchangeBinance, ExchangeBybit:
		return true
	}
	return false
}

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderRequest captures an order intent to be sent to an exchange.
// Quantity must already be a venue-valid increment; adapters do not round.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Qty        float64
	ClientID   string // optional client order id
	ReduceOnly bool   // close-only orders placed by the trade monitor
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	FilledPrice     float64 // zero when the venue omits the fill price
}

// Credentials carries decrypted API access for one (user, venue) pair.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}
