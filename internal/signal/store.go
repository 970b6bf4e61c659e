package signal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no signal exists for a symbol.
var ErrNotFound = errors.New("signal not found")

// Store persists signals. Rows are immutable; newer signals supersede older
// ones for the same symbol and lookup is always most-recent-by-time.
type Store struct {
	db *sql.DB
}

// NewStore creates a signal store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes one signal row.
func (s *Store) Insert(ctx context.Context, sig Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, observed_at, close_price, ema_gap, rsi_4h, rsi_15m,
		                     momentum_15, atr_30, atr_percent, volume_30, volume_ma,
		                     cross_above_ema9, cross_below_ema9, leverage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.Symbol, sig.ObservedAt.UTC(), sig.ClosePrice, sig.EMAGap, sig.RSI4h, sig.RSI15m,
		sig.Momentum15, sig.ATR30, sig.ATRPercent, sig.Volume30, sig.VolumeMA,
		boolPtrToInt(sig.CrossAboveEMA9), boolPtrToInt(sig.CrossBelowEMA9), sig.Leverage)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// LatestBySymbol returns the most recent signal for symbol.
func (s *Store) LatestBySymbol(ctx context.Context, symbol string) (Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, observed_at, close_price, ema_gap, rsi_4h, rsi_15m,
		       momentum_15, atr_30, atr_percent, volume_30, volume_ma,
		       cross_above_ema9, cross_below_ema9, leverage
		FROM signals
		WHERE symbol = ?
		ORDER BY observed_at DESC
		LIMIT 1
	`, symbol)
	return scanSignal(row)
}

// ActiveSymbols returns symbols with a signal observed within the window.
func (s *Store) ActiveSymbols(ctx context.Context, window time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT symbol FROM signals WHERE observed_at >= ? ORDER BY symbol
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query active symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (Signal, error) {
	var (
		sig                    Signal
		crossAbove, crossBelow sql.NullInt64
	)
	err := row.Scan(&sig.ID, &sig.Symbol, &sig.ObservedAt, &sig.ClosePrice,
		&sig.EMAGap, &sig.RSI4h, &sig.RSI15m, &sig.Momentum15, &sig.ATR30,
		&sig.ATRPercent, &sig.Volume30, &sig.VolumeMA, &crossAbove, &crossBelow, &sig.Leverage)
	if errors.Is(err, sql.ErrNoRows) {
		return Signal{}, ErrNotFound
	}
	if err != nil {
		return Signal{}, fmt.Errorf("scan signal: %w", err)
	}
	sig.CrossAboveEMA9 = intToBoolPtr(crossAbove)
	sig.CrossBelowEMA9 = intToBoolPtr(crossBelow)
	return sig, nil
}

func boolPtrToInt(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func intToBoolPtr(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}
