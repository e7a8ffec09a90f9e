package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testResetRecord(tokenID, accountID, secret string, expiresAt time.Time) *ResetRecord {
	return &ResetRecord{
		TokenID:    tokenID,
		AccountID:  accountID,
		SecretHash: hashOf(secret),
		ExpiresAt:  expiresAt.Unix(),
	}
}

func TestResetConsumeOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "apr")
	ctx := context.Background()

	rec := testResetRecord("r1", "acct1", "secret", time.Now().Add(15*time.Minute))
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	consumed, err := store.Consume(ctx, "r1", hashOf("secret"))
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if consumed.AccountID != "acct1" {
		t.Fatalf("unexpected account: %s", consumed.AccountID)
	}

	// Second redemption must observe the used marker.
	if _, err := store.Consume(ctx, "r1", hashOf("secret")); !errors.Is(err, ErrResetUsed) {
		t.Fatalf("expected ErrResetUsed, got %v", err)
	}
}

func TestResetConsumeWrongSecret(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "apr")
	ctx := context.Background()

	if err := store.Save(ctx, testResetRecord("r1", "acct1", "secret", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctx, "r1", hashOf("wrong")); !errors.Is(err, ErrResetSecretMismatch) {
		t.Fatalf("expected ErrResetSecretMismatch, got %v", err)
	}

	// A failed guess does not consume the token.
	if _, err := store.Consume(ctx, "r1", hashOf("secret")); err != nil {
		t.Fatalf("Consume after failed guess must still work: %v", err)
	}
}

func TestResetExpiryBoundary(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "apr")
	ctx := context.Background()

	// Exactly at the expiry instant: rejected.
	atBoundary := testResetRecord("r1", "acct1", "secret", time.Now().Add(time.Second))
	atBoundary.ExpiresAt = time.Now().Unix()
	encoded, err := encodeResetRecord(atBoundary)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := rdb.Set(ctx, "apr:t:r1", encoded, time.Minute).Err(); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := store.Consume(ctx, "r1", hashOf("secret")); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected ErrResetNotFound at expiry boundary, got %v", err)
	}

	// One second before expiry: accepted.
	before := testResetRecord("r2", "acct1", "secret", time.Now().Add(time.Second))
	if err := store.Save(ctx, before); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Consume(ctx, "r2", hashOf("secret")); err != nil {
		t.Fatalf("expected consume one second before expiry to succeed: %v", err)
	}
}

func TestResetConcurrentRedemption(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "apr")
	ctx := context.Background()

	if err := store.Save(ctx, testResetRecord("r1", "acct1", "secret", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const attempts = 2
	results := make([]error, attempts)

	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, results[i] = store.Consume(ctx, "r1", hashOf("secret"))
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrResetUsed):
			conflicts++
		default:
			t.Fatalf("unexpected error from concurrent consume: %v", err)
		}
	}

	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d conflicts", successes, conflicts)
	}
}

func TestResetInvalidateForAccount(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "apr")
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		if err := store.Save(ctx, testResetRecord(id, "acct1", "secret-"+id, time.Now().Add(time.Minute))); err != nil {
			t.Fatalf("Save %s failed: %v", id, err)
		}
	}

	if err := store.InvalidateForAccount(ctx, "acct1"); err != nil {
		t.Fatalf("InvalidateForAccount failed: %v", err)
	}

	for _, id := range []string{"r1", "r2"} {
		if _, err := store.Consume(ctx, id, hashOf("secret-"+id)); !errors.Is(err, ErrResetNotFound) {
			t.Fatalf("expected %s to be invalidated, got %v", id, err)
		}
	}
}

func TestResetMissingToken(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "apr")

	if _, err := store.Consume(context.Background(), "absent", hashOf("x")); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected ErrResetNotFound, got %v", err)
	}
}
