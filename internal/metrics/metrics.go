package metrics

import "sync/atomic"

// ID selects one counter slot.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginRateLimited
	RegisterSuccess
	RegisterDuplicate
	RefreshSuccess
	RefreshFailure
	RefreshTheftSuspected
	Logout
	LogoutAll
	ResetRequest
	ResetConfirmSuccess
	ResetConfirmFailure
	PasswordChangeSuccess
	PasswordReuseRejected
	RateLimitHit
	LimiterFallback
	ValidateSuccess
	ValidateFailure
	idCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Counters is a fixed set of lock-free counters. The write path is a
// single atomic add; there is no per-event allocation.
type Counters struct {
	slots [idCount]paddedCounter
}

// New returns an empty counter set.
func New() *Counters {
	return &Counters{}
}

// Inc adds one to the counter. Nil receivers are no-ops so callers can
// run with metrics disabled.
func (c *Counters) Inc(id ID) {
	if c == nil || id >= idCount {
		return
	}
	atomic.AddUint64(&c.slots[id].value, 1)
}

// Value reads one counter.
func (c *Counters) Value(id ID) uint64 {
	if c == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&c.slots[id].value)
}

// Snapshot copies every counter. The copy is not atomic across slots;
// each slot is individually consistent.
func (c *Counters) Snapshot() map[ID]uint64 {
	s := make(map[ID]uint64, int(idCount))
	if c == nil {
		return s
	}
	for id := ID(0); id < idCount; id++ {
		s[id] = atomic.LoadUint64(&c.slots[id].value)
	}
	return s
}
