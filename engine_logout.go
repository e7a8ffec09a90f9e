package authcore

import (
	"context"

	"github.com/cmskit/authcore/internal/metrics"
	"github.com/cmskit/authcore/internal/token"
)

// Logout revokes the presented refresh token. It is idempotent: an
// undecodable, absent, or already-revoked token is not an error. Callers
// clear their cookies regardless.
func (e *Engine) Logout(ctx context.Context, presented string) error {
	id, _, err := token.Decode(presented)
	if err != nil {
		return nil
	}

	if err := e.refresh.Revoke(ctx, id.String()); err != nil {
		return e.internalErr("logout", err)
	}

	e.counters.Inc(metrics.Logout)
	return nil
}

// LogoutAll revokes every refresh token the account holds, forcing
// re-login on all clients.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if err := e.refresh.RevokeAllForAccount(ctx, accountID); err != nil {
		return e.internalErr("logout_all", err)
	}

	e.counters.Inc(metrics.LogoutAll)
	return nil
}
