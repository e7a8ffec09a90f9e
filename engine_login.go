package authcore

import (
	"context"
	"errors"

	"github.com/cmskit/authcore/internal/metrics"
)

// Login verifies the credentials and opens a session. The verification
// runs against a pre-computed dummy hash when the account is missing or
// inactive, so response timing does not reveal account existence. Every
// failure cause returns ErrInvalidCredentials.
//
// The login rate policy counts failures only: the limit is consulted
// before the attempt and a hit is recorded only when it fails.
func (e *Engine) Login(ctx context.Context, username, plaintext string) (*LoginResult, error) {
	key := e.limitKey(ctx)

	if d := e.limiter.Peek(ctx, key, e.cfg.Limits.Login); !d.Allowed {
		e.counters.Inc(metrics.LoginRateLimited)
		e.counters.Inc(metrics.RateLimitHit)
		return nil, &RateLimitedError{RetryAfter: d.RetryAfter}
	}

	acct, err := e.accounts.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, e.internalErr("login", err)
	}

	// The stored hash is empty for a missing account; VerifyStored then
	// runs the full derivation against the dummy target and fails.
	stored := ""
	usable := err == nil && acct.Active
	if err == nil {
		stored = acct.PasswordHash
	}

	ok := e.verifier.VerifyStored(plaintext, stored)
	if !ok || !usable {
		e.limiter.Hit(ctx, key, e.cfg.Limits.Login)
		e.counters.Inc(metrics.LoginFailure)
		return nil, ErrInvalidCredentials
	}

	tokens, err := e.issueSession(ctx, acct, true)
	if err != nil {
		return nil, e.internalErr("login", err)
	}

	e.counters.Inc(metrics.LoginSuccess)
	return &LoginResult{Account: acct.Public(), Tokens: tokens}, nil
}
