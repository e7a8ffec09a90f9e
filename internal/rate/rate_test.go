package rate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, NewRedisStore(rdb, "arl")
}

func testPolicy() Policy {
	return Policy{
		Name:          "test",
		Window:        15 * time.Minute,
		Max:           5,
		BlockDuration: 30 * time.Minute,
		Progressive:   true,
	}
}

func TestRedisStoreDeniesOverLimit(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()
	p := testPolicy()

	for i := 0; i < 5; i++ {
		d, err := store.Hit(ctx, "ip1", p)
		if err != nil {
			t.Fatalf("Hit %d failed: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("hit %d within the limit must be allowed", i+1)
		}
		if d.Remaining != 5-(i+1) {
			t.Fatalf("hit %d: remaining = %d, want %d", i+1, d.Remaining, 5-(i+1))
		}
	}

	d, err := store.Hit(ctx, "ip1", p)
	if err != nil {
		t.Fatalf("sixth Hit failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("sixth hit within the window must be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("denied decision must carry a positive RetryAfter, got %v", d.RetryAfter)
	}
}

func TestRedisStoreKeysAreIndependent(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()
	p := testPolicy()

	for i := 0; i < 6; i++ {
		_, _ = store.Hit(ctx, "ip1", p)
	}

	d, err := store.Hit(ctx, "ip2", p)
	if err != nil {
		t.Fatalf("Hit failed: %v", err)
	}
	if !d.Allowed {
		t.Fatal("a different key must not inherit another key's block")
	}
}

func TestRedisStoreBlockExpiresWithWindow(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()
	p := Policy{
		Name:          "test",
		Window:        time.Minute,
		Max:           2,
		BlockDuration: 30 * time.Second,
	}

	base := time.Now()
	store.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		if d, _ := store.Hit(ctx, "ip1", p); !d.Allowed {
			t.Fatalf("hit %d must be allowed", i+1)
		}
	}
	if d, _ := store.Hit(ctx, "ip1", p); d.Allowed {
		t.Fatal("third hit must be denied")
	}

	// Past the block and past the window: the slate is clean.
	advance := 2 * time.Minute
	mr.FastForward(advance)
	store.now = func() time.Time { return base.Add(advance) }

	d, err := store.Hit(ctx, "ip1", p)
	if err != nil {
		t.Fatalf("Hit after block expiry failed: %v", err)
	}
	if !d.Allowed {
		t.Fatal("hit after the block and window have lapsed must be allowed")
	}
}

func TestRedisStorePeekFailClosed(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()
	p := testPolicy()

	for i := 0; i < 5; i++ {
		if _, err := store.Hit(ctx, "ip1", p); err != nil {
			t.Fatalf("Hit failed: %v", err)
		}
	}

	// At the limit, a peek denies even though it records nothing.
	d, err := store.Peek(ctx, "ip1", p)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("peek at the limit must deny")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("denied peek must carry a positive RetryAfter, got %v", d.RetryAfter)
	}

	// Peeks do not consume slots: one real hit still flips to a block,
	// not earlier.
	d, err = store.Peek(ctx, "ip2", p)
	if err != nil {
		t.Fatalf("Peek on fresh key failed: %v", err)
	}
	if !d.Allowed || d.Remaining != 5 {
		t.Fatalf("fresh key peek: allowed=%v remaining=%d, want allowed with 5", d.Allowed, d.Remaining)
	}
}

func TestRedisStorePeekInstallsBlockBeyondWindow(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()
	p := Policy{
		Name:          "test",
		Window:        time.Minute,
		Max:           2,
		BlockDuration: 30 * time.Minute,
		Progressive:   true,
	}

	base := time.Now()
	store.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		if d, _ := store.Hit(ctx, "ip1", p); !d.Allowed {
			t.Fatalf("hit %d must be allowed", i+1)
		}
	}

	// The peek at the limit installs the full block, not just a denial
	// for the remainder of the window.
	d, err := store.Peek(ctx, "ip1", p)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("peek at the limit must deny")
	}
	if d.RetryAfter != p.BlockDuration {
		t.Fatalf("peek retry = %v, want the block duration %v", d.RetryAfter, p.BlockDuration)
	}

	// Well past the window the recorded hits are gone, but the block
	// still stands.
	advance := 3 * time.Minute
	mr.FastForward(advance)
	store.now = func() time.Time { return base.Add(advance) }

	if d, _ := store.Hit(ctx, "ip1", p); d.Allowed {
		t.Fatal("hit after the window slid must still be denied by the block")
	}
	if d, _ := store.Peek(ctx, "ip1", p); d.Allowed {
		t.Fatal("peek after the window slid must still be denied by the block")
	}

	// Past the block the slate is clean.
	advance += p.BlockDuration
	mr.FastForward(p.BlockDuration)
	store.now = func() time.Time { return base.Add(advance) }

	if d, _ := store.Hit(ctx, "ip1", p); !d.Allowed {
		t.Fatal("hit after the block lapsed must be allowed")
	}
}

func TestLocalStorePeekInstallsBlockBeyondWindow(t *testing.T) {
	store := NewLocalStore(0)
	defer store.Close()
	ctx := context.Background()
	p := Policy{
		Name:          "test",
		Window:        time.Minute,
		Max:           2,
		BlockDuration: 30 * time.Minute,
		Progressive:   true,
	}

	clock := time.Now()
	store.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if d, _ := store.Hit(ctx, "ip1", p); !d.Allowed {
			t.Fatalf("hit %d must be allowed", i+1)
		}
	}

	d, err := store.Peek(ctx, "ip1", p)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if d.Allowed || d.RetryAfter != p.BlockDuration {
		t.Fatalf("peek at the limit: allowed=%v retry=%v, want denied with the block duration", d.Allowed, d.RetryAfter)
	}

	clock = clock.Add(3 * time.Minute)
	if d, _ := store.Hit(ctx, "ip1", p); d.Allowed {
		t.Fatal("hit after the window slid must still be denied by the block")
	}

	clock = clock.Add(p.BlockDuration)
	if d, _ := store.Hit(ctx, "ip1", p); !d.Allowed {
		t.Fatal("hit after the block lapsed must be allowed")
	}
}

func TestLocalStoreProgressiveBlocking(t *testing.T) {
	store := NewLocalStore(0)
	defer store.Close()
	ctx := context.Background()

	p := Policy{
		Name:          "test",
		Window:        time.Hour,
		Max:           5,
		BlockDuration: time.Minute,
		Progressive:   true,
	}

	clock := time.Now()
	store.now = func() time.Time { return clock }

	denied := func(n int) Decision {
		t.Helper()
		d, err := store.Hit(ctx, "ip1", p)
		if err != nil {
			t.Fatalf("Hit %d failed: %v", n, err)
		}
		return d
	}

	// Hits 1-5 allowed, hit 6 starts the first block at the base penalty.
	for i := 1; i <= 5; i++ {
		if d := denied(i); !d.Allowed {
			t.Fatalf("hit %d must be allowed", i)
		}
	}
	if d := denied(6); d.Allowed || d.RetryAfter != time.Minute {
		t.Fatalf("hit 6: allowed=%v retry=%v, want denied with base penalty", d.Allowed, d.RetryAfter)
	}

	// Ride out each block and keep hitting. The hour-long window retains
	// every hit, so violations accumulate: the 10th hit doubles the
	// penalty and the 15th quadruples it.
	for i := 7; i <= 15; i++ {
		clock = clock.Add(p.BlockDuration*2 + time.Second)
		d := denied(i)
		if d.Allowed {
			t.Fatalf("hit %d over the limit must be denied", i)
		}
		switch i {
		case 10:
			if d.RetryAfter != 2*time.Minute {
				t.Fatalf("hit 10: retry = %v, want doubled penalty", d.RetryAfter)
			}
		case 15:
			if d.RetryAfter != 4*time.Minute {
				t.Fatalf("hit 15: retry = %v, want quadrupled penalty", d.RetryAfter)
			}
		}
	}
}

func TestLocalStoreBlockDenies(t *testing.T) {
	store := NewLocalStore(0)
	defer store.Close()
	ctx := context.Background()
	p := testPolicy()

	clock := time.Now()
	store.now = func() time.Time { return clock }

	for i := 0; i < 6; i++ {
		_, _ = store.Hit(ctx, "ip1", p)
	}

	// Inside the block nothing is recorded.
	d, _ := store.Hit(ctx, "ip1", p)
	if d.Allowed {
		t.Fatal("hit inside an active block must be denied")
	}

	clock = clock.Add(p.BlockDuration + p.Window + time.Second)
	d, _ = store.Hit(ctx, "ip1", p)
	if !d.Allowed {
		t.Fatal("hit after block and window lapse must be allowed")
	}
}

func TestLocalStoreSweepEvictsIdleEntries(t *testing.T) {
	store := NewLocalStore(0)
	defer store.Close()
	ctx := context.Background()
	p := testPolicy()

	clock := time.Now()
	store.now = func() time.Time { return clock }

	if _, err := store.Hit(ctx, "ip1", p); err != nil {
		t.Fatalf("Hit failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", store.Len())
	}

	// Still warm: the sweep keeps it.
	clock = clock.Add(time.Hour)
	store.evictIdle()
	if store.Len() != 1 {
		t.Fatal("sweep must not evict a warm entry")
	}

	clock = clock.Add(3 * time.Hour)
	store.evictIdle()
	if store.Len() != 0 {
		t.Fatalf("expected idle entry to be evicted, got %d entries", store.Len())
	}
}

func TestLimiterFallsBackWhenSharedStoreFails(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fallbacks := 0
	limiter := NewLimiter(
		NewRedisStore(rdb, "arl"),
		NewLocalStore(0),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithFallbackHook(func() { fallbacks++ }),
	)
	defer limiter.Close()

	ctx := context.Background()
	p := testPolicy()

	if d := limiter.Hit(ctx, "ip1", p); !d.Allowed {
		t.Fatal("hit against a healthy shared store must be allowed")
	}

	// Take the shared store down; the local store must keep enforcing.
	mr.Close()

	for i := 0; i < 5; i++ {
		if d := limiter.Hit(ctx, "ip1", p); !d.Allowed {
			t.Fatalf("local fallback hit %d must be allowed", i+1)
		}
	}
	if d := limiter.Hit(ctx, "ip1", p); d.Allowed {
		t.Fatal("local fallback must deny over the limit")
	}
	if fallbacks == 0 {
		t.Fatal("fallback hook must have fired")
	}
}

func TestBlockForCapsMultiplier(t *testing.T) {
	p := Policy{BlockDuration: time.Minute, Progressive: true}

	cases := []struct {
		violations int64
		want       time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{40, 32 * time.Minute},
	}
	for _, tc := range cases {
		if got := blockFor(p, tc.violations); got != tc.want {
			t.Fatalf("blockFor(%d) = %v, want %v", tc.violations, got, tc.want)
		}
	}

	p.Progressive = false
	if got := blockFor(p, 10); got != time.Minute {
		t.Fatalf("non-progressive blockFor = %v, want base", got)
	}
}
