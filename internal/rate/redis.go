package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared counter store. Window state lives in a sorted
// set of hit timestamps per key; blocks are plain keys whose TTL is the
// remaining penalty. Correctness rests on Redis's atomic primitives, not
// on client-side locking.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a shared store under the given key prefix.
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "arl"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisStore) hitsKey(key string, p Policy) string {
	return s.prefix + ":h:" + p.Name + ":" + key
}

func (s *RedisStore) blockKey(key string, p Policy) string {
	return s.prefix + ":b:" + p.Name + ":" + key
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, p Policy) (Decision, error) {
	now := s.now()

	retry, blocked, err := s.activeBlock(ctx, key, p)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return deniedDecision(p, now, retry), nil
	}

	zkey := s.hitsKey(key, p)
	windowStart := now.Add(-p.Window)

	var card *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, zkey, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
		pipe.ZAdd(ctx, zkey, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: uuid.NewString(),
		})
		card = pipe.ZCard(ctx, zkey)
		pipe.PExpire(ctx, zkey, p.Window+time.Minute)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count := card.Val()
	if count > int64(p.Max) {
		return s.installBlock(ctx, key, zkey, p, count, now)
	}

	return allowedDecision(p, count, now), nil
}

// Peek implements Store. It records nothing, but reading the key at or
// over its limit installs the policy's block, so the denial outlasts the
// sliding window even for policies whose call sites only record failures.
func (s *RedisStore) Peek(ctx context.Context, key string, p Policy) (Decision, error) {
	now := s.now()

	retry, blocked, err := s.activeBlock(ctx, key, p)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return deniedDecision(p, now, retry), nil
	}

	zkey := s.hitsKey(key, p)
	windowStart := now.Add(-p.Window)

	var card *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, zkey, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
		card = pipe.ZCard(ctx, zkey)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count := card.Val()
	if count >= int64(p.Max) {
		return s.installBlock(ctx, key, zkey, p, count, now)
	}

	d := allowedDecision(p, count, now)
	// Peek does not consume a slot; remaining reflects what a hit would leave.
	d.Remaining = p.Max - int(count)
	return d, nil
}

// installBlock records the penalty for a key at or over its limit. A
// policy without a block duration denies only until the oldest hit
// leaves the window.
func (s *RedisStore) installBlock(ctx context.Context, key, zkey string, p Policy, count int64, now time.Time) (Decision, error) {
	violations := count / int64(p.Max)
	if violations < 1 {
		violations = 1
	}

	penalty := blockFor(p, violations)
	if penalty <= 0 {
		retry, err := s.oldestLeavesWindow(ctx, zkey, p, now)
		if err != nil {
			return Decision{}, err
		}
		return deniedDecision(p, now, retry), nil
	}

	if err := s.redis.Set(ctx, s.blockKey(key, p), 1, penalty).Err(); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return deniedDecision(p, now, penalty), nil
}

func (s *RedisStore) activeBlock(ctx context.Context, key string, p Policy) (time.Duration, bool, error) {
	ttl, err := s.redis.PTTL(ctx, s.blockKey(key, p)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl > 0 {
		return ttl, true, nil
	}
	return 0, false, nil
}

func (s *RedisStore) oldestLeavesWindow(ctx context.Context, zkey string, p Policy, now time.Time) (time.Duration, error) {
	oldest, err := s.redis.ZRangeWithScores(ctx, zkey, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(oldest) == 0 {
		return p.Window, nil
	}

	leaves := time.UnixMilli(int64(oldest[0].Score)).Add(p.Window)
	return leaves.Sub(now), nil
}
