package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func hashOf(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func testRefreshRecord(tokenID, accountID, secret, fingerprint string) *RefreshRecord {
	now := time.Now()
	return &RefreshRecord{
		TokenID:         tokenID,
		AccountID:       accountID,
		SecretHash:      hashOf(secret),
		FingerprintHash: hashOf(fingerprint),
		IssuedAt:        now.Unix(),
		ExpiresAt:       now.Add(time.Hour).Unix(),
	}
}

func TestRefreshRotateHappyPath(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "art")
	ctx := context.Background()

	first := testRefreshRecord("tok1", "acct1", "secret1", "fp")
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	successor := testRefreshRecord("tok2", "acct1", "secret2", "fp")
	retired, err := store.Rotate(ctx, "tok1", hashOf("secret1"), hashOf("fp"), successor)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if retired.AccountID != "acct1" {
		t.Fatalf("unexpected account: %s", retired.AccountID)
	}

	// Predecessor is revoked, successor is live.
	old, err := store.Get(ctx, "tok1")
	if err != nil {
		t.Fatalf("Get predecessor failed: %v", err)
	}
	if old.RevokedAt == 0 {
		t.Fatal("predecessor must be revoked after rotation")
	}

	next, err := store.Get(ctx, "tok2")
	if err != nil {
		t.Fatalf("Get successor failed: %v", err)
	}
	if next.RevokedAt != 0 {
		t.Fatal("successor must be live after rotation")
	}
}

func TestRefreshRotateReplayFails(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "art")
	ctx := context.Background()

	if err := store.Save(ctx, testRefreshRecord("tok1", "acct1", "secret1", "fp")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Rotate(ctx, "tok1", hashOf("secret1"), hashOf("fp"),
		testRefreshRecord("tok2", "acct1", "secret2", "fp")); err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}

	// Presenting the original, rotated-away secret again must fail.
	_, err := store.Rotate(ctx, "tok1", hashOf("secret1"), hashOf("fp"),
		testRefreshRecord("tok3", "acct1", "secret3", "fp"))
	if !errors.Is(err, ErrRefreshRevoked) {
		t.Fatalf("expected ErrRefreshRevoked on replay, got %v", err)
	}
}

func TestRefreshRotateFingerprintMismatchRevokes(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "art")
	ctx := context.Background()

	if err := store.Save(ctx, testRefreshRecord("tok1", "acct1", "secret1", "fp-original")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Thief presents the right secret from the wrong client.
	_, err := store.Rotate(ctx, "tok1", hashOf("secret1"), hashOf("fp-thief"),
		testRefreshRecord("tok2", "acct1", "secret2", "fp-thief"))
	if !errors.Is(err, ErrRefreshFingerprintMismatch) {
		t.Fatalf("expected ErrRefreshFingerprintMismatch, got %v", err)
	}

	// The legitimate client is now locked out too: the link was revoked.
	_, err = store.Rotate(ctx, "tok1", hashOf("secret1"), hashOf("fp-original"),
		testRefreshRecord("tok3", "acct1", "secret3", "fp-original"))
	if !errors.Is(err, ErrRefreshRevoked) {
		t.Fatalf("expected ErrRefreshRevoked after theft revocation, got %v", err)
	}

	// No successor was installed for the thief.
	if _, err := store.Get(ctx, "tok2"); !errors.Is(err, ErrRefreshNotFound) {
		t.Fatalf("expected no successor row, got %v", err)
	}
}

func TestRefreshRotateWrongSecret(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "art")
	ctx := context.Background()

	if err := store.Save(ctx, testRefreshRecord("tok1", "acct1", "secret1", "fp")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, err := store.Rotate(ctx, "tok1", hashOf("wrong"), hashOf("fp"),
		testRefreshRecord("tok2", "acct1", "secret2", "fp"))
	if !errors.Is(err, ErrRefreshSecretMismatch) {
		t.Fatalf("expected ErrRefreshSecretMismatch, got %v", err)
	}

	// Wrong secret does not revoke the row.
	rec, err := store.Get(ctx, "tok1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.RevokedAt != 0 {
		t.Fatal("wrong secret must not revoke the link")
	}
}

func TestRefreshRotateExpired(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "art")
	ctx := context.Background()

	rec := testRefreshRecord("tok1", "acct1", "secret1", "fp")
	rec.ExpiresAt = time.Now().Add(time.Second).Unix()
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Rewrite the row as already expired; the redis TTL has not fired yet.
	rec.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	encoded, err := encodeRefreshRecord(rec)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := rdb.Set(ctx, "art:t:tok1", encoded, time.Minute).Err(); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	_, err = store.Rotate(ctx, "tok1", hashOf("secret1"), hashOf("fp"),
		testRefreshRecord("tok2", "acct1", "secret2", "fp"))
	if !errors.Is(err, ErrRefreshExpired) {
		t.Fatalf("expected ErrRefreshExpired, got %v", err)
	}
}

func TestRefreshRevokeIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "art")
	ctx := context.Background()

	if err := store.Save(ctx, testRefreshRecord("tok1", "acct1", "secret1", "fp")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Revoke(ctx, "tok1"); err != nil {
		t.Fatalf("first Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, "tok1"); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}
	if err := store.Revoke(ctx, "no-such-token"); err != nil {
		t.Fatalf("Revoke of absent token failed: %v", err)
	}
}

func TestRefreshRevokeAllForAccount(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRefreshStore(rdb, "art")
	ctx := context.Background()

	for _, id := range []string{"tok1", "tok2", "tok3"} {
		if err := store.Save(ctx, testRefreshRecord(id, "acct1", "secret-"+id, "fp")); err != nil {
			t.Fatalf("Save %s failed: %v", id, err)
		}
	}
	if err := store.Save(ctx, testRefreshRecord("other", "acct2", "secret-other", "fp")); err != nil {
		t.Fatalf("Save other failed: %v", err)
	}

	if err := store.RevokeAllForAccount(ctx, "acct1"); err != nil {
		t.Fatalf("RevokeAllForAccount failed: %v", err)
	}

	for _, id := range []string{"tok1", "tok2", "tok3"} {
		rec, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s failed: %v", id, err)
		}
		if rec.RevokedAt == 0 {
			t.Fatalf("token %s must be revoked", id)
		}
	}

	other, err := store.Get(ctx, "other")
	if err != nil {
		t.Fatalf("Get other failed: %v", err)
	}
	if other.RevokedAt != 0 {
		t.Fatal("other account's token must stay live")
	}
}

func TestRefreshRecordCodecRoundTrip(t *testing.T) {
	rec := testRefreshRecord("tok1", "acct-with-a-long-id", "secret", "fp")
	rec.RevokedAt = rec.IssuedAt + 10

	encoded, err := encodeRefreshRecord(rec)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeRefreshRecord(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.AccountID != rec.AccountID ||
		decoded.SecretHash != rec.SecretHash ||
		decoded.FingerprintHash != rec.FingerprintHash ||
		decoded.IssuedAt != rec.IssuedAt ||
		decoded.ExpiresAt != rec.ExpiresAt ||
		decoded.RevokedAt != rec.RevokedAt {
		t.Fatalf("decoded record does not match: %+v vs %+v", decoded, rec)
	}
}
