package rate

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps counter-store connectivity failures. The
// Limiter recovers from it by falling back to the local store; it never
// propagates to a request.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Policy describes one rate-limit class. Policies are value types; call
// sites pass the predefined ones from Policies or build their own.
type Policy struct {
	// Name tags store keys so distinct policies sharing a caller key do
	// not collide.
	Name string
	// Window is the trailing span hits are counted over.
	Window time.Duration
	// Max is the number of hits allowed inside Window.
	Max int
	// BlockDuration is the base penalty installed when Max is exceeded.
	BlockDuration time.Duration
	// Progressive scales the penalty by min(2^(violations-1), 32) where
	// violations = floor(count/Max). Brute-force endpoints enable this.
	Progressive bool
	// FailuresOnly marks policies whose hits are recorded by the call
	// site only after a failed attempt (Peek before, Hit on failure).
	FailuresOnly bool
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Store is the counter-store capability. Two implementations exist: the
// Redis-backed shared store enforcing limits cluster-wide, and the local
// in-process store used while the shared one is unreachable.
type Store interface {
	// Hit records an attempt and decides it. Hits over the limit are
	// still recorded so repeat offenders accumulate violations.
	Hit(ctx context.Context, key string, p Policy) (Decision, error)
	// Peek decides without recording. Used by failure-counted policies
	// ahead of the attempt.
	Peek(ctx context.Context, key string, p Policy) (Decision, error)
}

// blockFor computes the penalty duration for the given violation count.
func blockFor(p Policy, violations int64) time.Duration {
	if !p.Progressive || violations <= 1 {
		return p.BlockDuration
	}

	exp := violations - 1
	if exp > 5 {
		exp = 5 // cap multiplier at 32
	}
	return p.BlockDuration * time.Duration(int64(1)<<exp)
}

func allowedDecision(p Policy, count int64, now time.Time) Decision {
	remaining := int64(p.Max) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     p.Max,
		Remaining: int(remaining),
		ResetAt:   now.Add(p.Window),
	}
}

func deniedDecision(p Policy, now time.Time, retryAfter time.Duration) Decision {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{
		Allowed:    false,
		Limit:      p.Max,
		Remaining:  0,
		ResetAt:    now.Add(retryAfter),
		RetryAfter: retryAfter,
	}
}
