package trade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no trade matches the lookup.
	ErrNotFound = errors.New("trade not found")
	// ErrAlreadyClosed is returned when closing a trade twice; the
	// open -> closed transition happens exactly once.
	ErrAlreadyClosed = errors.New("trade already closed")
)

// Store is the audit-trail persistence for trades.
type Store struct {
	db *sql.DB
}

// NewStore creates a trade store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a new trade in open status. Called exactly once per
// successful order placement.
func (s *Store) Record(ctx context.Context, t Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, exchange, testnet, exchange_order_id, symbol, side, qty,
		                    entry_price, take_profit, stop_loss, leverage, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'open')
	`, t.ID, t.UserID, string(t.Exchange), boolToInt(t.Testnet), t.ExchangeOrderID, t.Symbol, string(t.Side),
		t.Qty, t.EntryPrice, t.TakeProfit, t.StopLoss, t.Leverage)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// CountOpen returns the user's number of open trades (the risk gate input).
func (s *Store) CountOpen(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades WHERE user_id = ? AND status = 'open'
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open trades: %w", err)
	}
	return count, nil
}

// OpenByUser returns a user's open trades.
func (s *Store) OpenByUser(ctx context.Context, userID string) ([]Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE user_id = ? AND status = 'open'
		ORDER BY opened_at
	`, userID)
}

// AllOpen returns every open trade; the monitor scans this set.
func (s *Store) AllOpen(ctx context.Context) ([]Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = 'open'
		ORDER BY opened_at
	`)
}

// ListByUser returns a user's trade history, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE user_id = ?
		ORDER BY opened_at DESC
		LIMIT ?
	`, userID, limit)
}

// Close marks a trade closed with exit details. Closing an already closed
// trade returns ErrAlreadyClosed so double triggers are harmless.
func (s *Store) Close(ctx context.Context, id string, exitPrice float64, reason ExitReason) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades
		SET status = 'closed', exit_price = ?, exit_reason = ?, closed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'open'
	`, exitPrice, string(reason), id)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close trade rows: %w", err)
	}
	if affected == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM trades WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check trade status: %w", err)
		}
		return ErrAlreadyClosed
	}
	return nil
}

const tradeColumns = `id, user_id, exchange, testnet, exchange_order_id, symbol, side, qty,
	entry_price, take_profit, stop_loss, leverage, status, opened_at,
	exit_price, exit_reason, closed_at`

func (s *Store) queryTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			t          Trade
			testnet    int
			exitPrice  sql.NullFloat64
			exitReason sql.NullString
			closedAt   sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Exchange, &testnet, &t.ExchangeOrderID, &t.Symbol,
			&t.Side, &t.Qty, &t.EntryPrice, &t.TakeProfit, &t.StopLoss, &t.Leverage,
			&t.Status, &t.OpenedAt, &exitPrice, &exitReason, &closedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Testnet = testnet != 0
		if exitPrice.Valid {
			t.ExitPrice = &exitPrice.Float64
		}
		if exitReason.Valid {
			reason := ExitReason(exitReason.String)
			t.ExitReason = &reason
		}
		if closedAt.Valid {
			t.ClosedAt = &closedAt.Time
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
