package rate

import (
	"context"
	"sync"
	"time"
)

// LocalStore is the in-process fallback counter store, scoped to a single
// service instance. It is an explicitly-owned object: construct it at
// service start, let its sweep run, and Close it on shutdown. The weaker
// single-instance guarantee is accepted only for shared-store outages.
type LocalStore struct {
	mu      sync.Mutex
	entries map[string]*localEntry

	now     func() time.Time
	sweep   time.Duration
	stopped chan struct{}
	once    sync.Once
}

type localEntry struct {
	hits         []int64 // unix milliseconds, oldest first
	blockedUntil int64
}

// NewLocalStore creates a local store and starts its background sweep.
// sweepInterval <= 0 disables the sweep (tests).
func NewLocalStore(sweepInterval time.Duration) *LocalStore {
	s := &LocalStore{
		entries: make(map[string]*localEntry),
		now:     time.Now,
		sweep:   sweepInterval,
		stopped: make(chan struct{}),
	}

	if sweepInterval > 0 {
		go s.sweepLoop()
	}

	return s
}

// Close stops the background sweep. Safe to call more than once.
func (s *LocalStore) Close() {
	s.once.Do(func() { close(s.stopped) })
}

func (s *LocalStore) entryKey(key string, p Policy) string {
	return p.Name + ":" + key
}

// Hit implements Store. It never fails; the fallback path must not add
// its own failure mode.
func (s *LocalStore) Hit(ctx context.Context, key string, p Policy) (Decision, error) {
	now := s.now()
	nowMs := now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[s.entryKey(key, p)]
	if e == nil {
		e = &localEntry{}
		s.entries[s.entryKey(key, p)] = e
	}

	if e.blockedUntil > nowMs {
		return deniedDecision(p, now, time.Duration(e.blockedUntil-nowMs)*time.Millisecond), nil
	}

	e.prune(nowMs - p.Window.Milliseconds())
	e.hits = append(e.hits, nowMs)

	count := int64(len(e.hits))
	if count > int64(p.Max) {
		return e.installBlock(p, count, now, nowMs), nil
	}

	return allowedDecision(p, count, now), nil
}

// Peek implements Store. Like the shared store it records nothing but
// installs the policy's block when the key is at or over its limit.
func (s *LocalStore) Peek(ctx context.Context, key string, p Policy) (Decision, error) {
	now := s.now()
	nowMs := now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[s.entryKey(key, p)]
	if e == nil {
		return allowedDecision(p, 0, now), nil
	}

	if e.blockedUntil > nowMs {
		return deniedDecision(p, now, time.Duration(e.blockedUntil-nowMs)*time.Millisecond), nil
	}

	e.prune(nowMs - p.Window.Milliseconds())
	count := int64(len(e.hits))
	if count >= int64(p.Max) {
		return e.installBlock(p, count, now, nowMs), nil
	}

	d := allowedDecision(p, count, now)
	d.Remaining = p.Max - int(count)
	return d, nil
}

// installBlock records the penalty for an entry at or over its limit. A
// policy without a block duration denies only until the oldest hit
// leaves the window.
func (e *localEntry) installBlock(p Policy, count int64, now time.Time, nowMs int64) Decision {
	violations := count / int64(p.Max)
	if violations < 1 {
		violations = 1
	}

	penalty := blockFor(p, violations)
	if penalty <= 0 {
		retry := p.Window
		if len(e.hits) > 0 {
			retry = time.Duration(e.hits[0]+p.Window.Milliseconds()-nowMs) * time.Millisecond
		}
		return deniedDecision(p, now, retry)
	}

	e.blockedUntil = nowMs + penalty.Milliseconds()
	return deniedDecision(p, now, penalty)
}

func (e *localEntry) prune(cutoffMs int64) {
	idx := 0
	for idx < len(e.hits) && e.hits[idx] <= cutoffMs {
		idx++
	}
	if idx > 0 {
		e.hits = append(e.hits[:0], e.hits[idx:]...)
	}
}

func (s *LocalStore) sweepLoop() {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopped:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

// evictIdle drops entries whose newest hit is stale and whose block has
// lapsed. It only removes already-expired state, so it is safe to run
// concurrently with request traffic.
func (s *LocalStore) evictIdle() {
	nowMs := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if e.blockedUntil > nowMs {
			continue
		}
		if n := len(e.hits); n > 0 {
			// Idle means the entire window plus a safety margin has passed
			// since the last hit.
			if nowMs-e.hits[n-1] < 2*time.Hour.Milliseconds() {
				continue
			}
		}
		delete(s.entries, key)
	}
}

// Len reports the number of live entries. Test hook.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
