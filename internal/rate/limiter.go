package rate

import (
	"context"
	"log/slog"
	"time"
)

// Limiter fronts the shared store with a local in-process fallback. When
// the shared store errors or times out the check is retried against the
// local store, so an outage degrades enforcement to per-instance instead
// of failing requests.
type Limiter struct {
	shared  Store
	local   *LocalStore
	logger  *slog.Logger
	timeout time.Duration

	onFallback func()
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithSharedTimeout bounds each shared-store call. Default 150ms.
func WithSharedTimeout(d time.Duration) LimiterOption {
	return func(l *Limiter) { l.timeout = d }
}

// WithFallbackHook registers a callback invoked once per fallback to the
// local store. Used for counters.
func WithFallbackHook(fn func()) LimiterOption {
	return func(l *Limiter) { l.onFallback = fn }
}

// NewLimiter builds a limiter over the given shared store. The local
// fallback store is owned by the limiter; Close releases it.
func NewLimiter(shared Store, local *LocalStore, logger *slog.Logger, opts ...LimiterOption) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		shared:  shared,
		local:   local,
		logger:  logger,
		timeout: 150 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Close releases the local fallback store.
func (l *Limiter) Close() {
	if l.local != nil {
		l.local.Close()
	}
}

// Hit records an attempt against key under the policy and decides it.
func (l *Limiter) Hit(ctx context.Context, key string, p Policy) Decision {
	return l.check(ctx, key, p, Store.Hit, "hit")
}

// Peek decides without recording.
func (l *Limiter) Peek(ctx context.Context, key string, p Policy) Decision {
	return l.check(ctx, key, p, Store.Peek, "peek")
}

func (l *Limiter) check(ctx context.Context, key string, p Policy, call func(Store, context.Context, string, Policy) (Decision, error), op string) Decision {
	if l.shared != nil {
		sctx, cancel := context.WithTimeout(ctx, l.timeout)
		d, err := call(l.shared, sctx, key, p)
		cancel()
		if err == nil {
			return d
		}

		l.logger.Warn("rate limit shared store unavailable, using local fallback",
			"policy", p.Name,
			"op", op,
			"error", err,
		)
		if l.onFallback != nil {
			l.onFallback()
		}
	}

	if l.local != nil {
		if d, err := call(l.local, ctx, key, p); err == nil {
			return d
		}
	}

	// Both stores gone: allow. Limiting protects the service, it must not
	// take it down.
	return Decision{Allowed: true, Limit: p.Max, Remaining: p.Max}
}
