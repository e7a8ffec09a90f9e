package authcore

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cmskit/authcore/internal/metrics"
	"github.com/cmskit/authcore/internal/rate"
	"github.com/cmskit/authcore/internal/stores"
	"github.com/cmskit/authcore/internal/token"
	"github.com/cmskit/authcore/jwt"
	"github.com/cmskit/authcore/password"
	"github.com/redis/go-redis/v9"
)

// Engine is the credential-trust core. All methods are safe for
// concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	redis  redis.UniversalClient

	verifier *password.Verifier
	tokens   *jwt.Manager
	refresh  *stores.RefreshStore
	resets   *stores.ResetStore
	limiter  *rate.Limiter

	accounts AccountStore
	sender   MessageSender
	counters *metrics.Counters
}

// Close releases engine-owned resources: the local limiter store's sweep.
func (e *Engine) Close() {
	e.limiter.Close()
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Limiter exposes the rate limiter for transport middleware.
func (e *Engine) Limiter() *rate.Limiter {
	return e.limiter
}

// Limits exposes the configured rate policies.
func (e *Engine) Limits() rate.Policies {
	return e.cfg.Limits
}

// MetricsHandler serves the engine counters in Prometheus text format.
func (e *Engine) MetricsHandler() http.Handler {
	return e.counters.Handler()
}

// Counters exposes the metric registry to transport packages.
func (e *Engine) Counters() *metrics.Counters {
	return e.counters
}

// Ping reports shared-store reachability for health checks.
func (e *Engine) Ping(ctx context.Context) error {
	return e.redis.Ping(ctx).Err()
}

// Validate verifies an access token and returns the identity it carries.
// Every failure cause collapses to jwt.ErrTokenInvalid.
func (e *Engine) Validate(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := e.tokens.Parse(accessToken)
	if err != nil {
		e.counters.Inc(metrics.ValidateFailure)
		return Identity{}, err
	}

	e.counters.Inc(metrics.ValidateSuccess)
	return Identity{
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
	}, nil
}

// fingerprint digests the requesting client's IP and user agent. Absent
// values hash to a stable digest; binding is only as strong as what the
// transport attaches to the context.
func (e *Engine) fingerprint(ctx context.Context) [32]byte {
	return token.HashFingerprint(clientIPFromContext(ctx), userAgentFromContext(ctx))
}

// limitKey is the default limiter key: verified identity when present,
// client IP otherwise.
func (e *Engine) limitKey(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok {
		return "id:" + id.AccountID
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// issueSession inserts a refresh chain link bound to the caller's
// fingerprint, optionally records the login, and only then issues the
// access token. If the refresh insert fails no access token exists.
func (e *Engine) issueSession(ctx context.Context, acct *Account, recordLogin bool) (TokenPair, error) {
	id, err := token.NewID()
	if err != nil {
		return TokenPair{}, err
	}
	secret, err := token.NewSecret()
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now()
	refreshExpiry := now.Add(e.cfg.RefreshTokenTTL)

	rec := &stores.RefreshRecord{
		TokenID:         id.String(),
		AccountID:       acct.ID,
		SecretHash:      secret.Hash(),
		FingerprintHash: e.fingerprint(ctx),
		IssuedAt:        now.Unix(),
		ExpiresAt:       refreshExpiry.Unix(),
	}
	if err := e.refresh.Save(ctx, rec); err != nil {
		return TokenPair{}, err
	}

	if recordLogin {
		if err := e.accounts.RecordLogin(ctx, acct.ID, now); err != nil {
			return TokenPair{}, err
		}
	}

	access, err := e.tokens.Issue(acct.ID, acct.Email, acct.Role)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		Access:           access,
		AccessExpiresAt:  now.Add(e.tokens.AccessTTL()),
		Refresh:          token.Encode(id, secret),
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// passwordReused reports whether candidate matches the current hash or
// any retained history entry. Every entry is verified; there is no early
// return on the first match.
func (e *Engine) passwordReused(ctx context.Context, acct *Account, candidate string) (bool, error) {
	history, err := e.accounts.PasswordHistory(ctx, acct.ID)
	if err != nil {
		return false, err
	}

	reused := e.verifier.VerifyStored(candidate, acct.PasswordHash)
	for _, entry := range history {
		if e.verifier.VerifyStored(candidate, entry.Hash) {
			reused = true
		}
	}

	return reused, nil
}

func (e *Engine) internalErr(op string, err error) error {
	e.logger.Error("auth backend failure", "op", op, "error", err)
	return wrapBackend(err)
}
