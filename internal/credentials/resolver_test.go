package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/uuid"

	"tradepilot/pkg/crypto"
	"tradepilot/pkg/db"
	"tradepilot/pkg/exchanges/common"
)

func newTestResolver(t *testing.T) *Resolver {
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
	return NewResolver(database.DB, km)
}

func TestSaveAndResolveRoundTrip(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.Save(ctx, uuid.NewString(), "u1", common.ExchangeBinance, false, "key-abc", "secret-xyz"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	creds, err := r.Resolve(ctx, "u1", common.ExchangeBinance, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if creds.APIKey != "key-abc" || creds.APISecret != "secret-xyz" {
		t.Fatalf("round trip lost secrets: %+v", creds)
	}
	if creds.Testnet {
		t.Fatal("testnet flag should be false")
	}
}

func TestResolveNotFound(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "ghost", common.ExchangeBybit, false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
}

func TestNetworksAreSeparateCredentials(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.Save(ctx, uuid.NewString(), "u1", common.ExchangeBinance, false, "live-key", "live-secret"); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, uuid.NewString(), "u1", common.ExchangeBinance, true, "test-key", "test-secret"); err != nil {
		t.Fatal(err)
	}

	live, err := r.Resolve(ctx, "u1", common.ExchangeBinance, false)
	if err != nil {
		t.Fatal(err)
	}
	testnet, err := r.Resolve(ctx, "u1", common.ExchangeBinance, true)
	if err != nil {
		t.Fatal(err)
	}
	if live.APIKey != "live-key" || testnet.APIKey != "test-key" {
		t.Fatalf("live=%q testnet=%q, networks bled together", live.APIKey, testnet.APIKey)
	}
}

func TestSaveReplacesExistingKeys(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.Save(ctx, uuid.NewString(), "u1", common.ExchangeBybit, false, "old-key", "old-secret"); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, uuid.NewString(), "u1", common.ExchangeBybit, false, "new-key", "new-secret"); err != nil {
		t.Fatal(err)
	}

	creds, err := r.Resolve(ctx, "u1", common.ExchangeBybit, false)
	if err != nil {
		t.Fatal(err)
	}
	if creds.APIKey != "new-key" {
		t.Fatalf("APIKey=%q, expected replacement to win", creds.APIKey)
	}

	listed, err := r.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("got %d credentials, expected upsert to keep 1", len(listed))
	}
}

func TestDeleteDeactivates(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.Save(ctx, uuid.NewString(), "u1", common.ExchangeBinance, false, "k", "s"); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "u1", common.ExchangeBinance, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := r.Resolve(ctx, "u1", common.ExchangeBinance, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve after delete err=%v, expected ErrNotFound", err)
	}
	if err := r.Delete(ctx, "u1", common.ExchangeBinance, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err=%v, expected ErrNotFound", err)
	}
}

func TestUsersWithCredentials(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.Save(ctx, uuid.NewString(), "u1", common.ExchangeBinance, false, "k", "s"); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, uuid.NewString(), "u1", common.ExchangeBybit, false, "k", "s"); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, uuid.NewString(), "u2", common.ExchangeBybit, true, "k", "s"); err != nil {
		t.Fatal(err)
	}

	users, err := r.UsersWithCredentials(ctx)
	if err != nil {
		t.Fatalf("UsersWithCredentials: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Fatalf("users=%v, expected [u1 u2]", users)
	}
}
