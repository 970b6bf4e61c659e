// Package credentials resolves per-user exchange API keys.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradepilot/pkg/crypto"
	"tradepilot/pkg/exchanges/common"
)

// ErrNotFound means the user has no credentials for the venue. This is a
// skip condition for callers, not a failure.
var ErrNotFound = errors.New("credentials not found")

// Credential is one stored (user, exchange, network) key pair. Secrets are
// AES-GCM encrypted at rest and only decrypted on resolve.
type Credential struct {
	ID         string
	UserID     string
	Exchange   common.Exchange
	Testnet    bool
	KeyVersion int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Resolver reads and writes credentials backed by the DB and key manager.
type Resolver struct {
	db     *sql.DB
	crypto *crypto.KeyManager
}

// NewResolver creates a resolver.
func NewResolver(db *sql.DB, km *crypto.KeyManager) *Resolver {
	return &Resolver{db: db, crypto: km}
}

// Resolve returns decrypted credentials for (userID, exchange, testnet).
// Absence yields ErrNotFound; callers skip the user and move on.
func (r *Resolver) Resolve(ctx context.Context, userID string, exchange common.Exchange, testnet bool) (common.Credentials, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT api_key_encrypted, api_secret_encrypted
		FROM credentials
		WHERE user_id = ? AND exchange = ? AND testnet = ? AND is_active = 1
	`, userID, string(exchange), boolToInt(testnet))

	var encKey, encSecret string
	if err := row.Scan(&encKey, &encSecret); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.Credentials{}, ErrNotFound
		}
		return common.Credentials{}, fmt.Errorf("query credentials: %w", err)
	}

	apiKey, err := r.crypto.Decrypt(encKey)
	if err != nil {
		return common.Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := r.crypto.Decrypt(encSecret)
	if err != nil {
		return common.Credentials{}, fmt.Errorf("decrypt api secret: %w", err)
	}

	return common.Credentials{APIKey: apiKey, APISecret: apiSecret, Testnet: testnet}, nil
}

// Save encrypts and upserts a credential pair for (userID, exchange, testnet).
func (r *Resolver) Save(ctx context.Context, id, userID string, exchange common.Exchange, testnet bool, apiKey, apiSecret string) error {
	encKey, err := r.crypto.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := r.crypto.Encrypt(apiSecret)
	if err != nil {
		return fmt.Errorf("encrypt api secret: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, user_id, exchange, testnet, api_key_encrypted, api_secret_encrypted, key_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, exchange, testnet) DO UPDATE SET
			api_key_encrypted = excluded.api_key_encrypted,
			api_secret_encrypted = excluded.api_secret_encrypted,
			key_version = excluded.key_version,
			is_active = 1,
			updated_at = CURRENT_TIMESTAMP
	`, id, userID, string(exchange), boolToInt(testnet), encKey, encSecret, r.crypto.CurrentVersion())
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}

// Delete deactivates a user's credentials for the venue.
func (r *Resolver) Delete(ctx context.Context, userID string, exchange common.Exchange, testnet bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND exchange = ? AND testnet = ? AND is_active = 1
	`, userID, string(exchange), boolToInt(testnet))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UsersWithCredentials lists user IDs holding active credentials for any
// venue; these are the users the evaluation batch considers.
func (r *Resolver) UsersWithCredentials(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM credentials WHERE is_active = 1 ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query credential users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// ListByUser returns credential metadata (no secrets) for one user.
func (r *Resolver) ListByUser(ctx context.Context, userID string) ([]Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, exchange, testnet, key_version, created_at, updated_at
		FROM credentials
		WHERE user_id = ? AND is_active = 1
		ORDER BY exchange, testnet
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var (
			c       Credential
			testnet int
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Exchange, &testnet, &c.KeyVersion, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		c.Testnet = testnet != 0
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
