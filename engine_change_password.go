package authcore

import (
	"context"

	"github.com/cmskit/authcore/internal/metrics"
)

// ChangePassword replaces an authenticated account's password. The
// current password must verify, the new one must satisfy the strength
// policy and must not match the current hash or any retained history
// entry. On success every refresh token the account holds is revoked.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, newPassword string) error {
	if d := e.limiter.Hit(ctx, "id:"+accountID, e.cfg.Limits.SettingsMutation); !d.Allowed {
		e.counters.Inc(metrics.RateLimitHit)
		return &RateLimitedError{RetryAfter: d.RetryAfter}
	}

	acct, err := e.accounts.FindByID(ctx, accountID)
	if err != nil || !acct.Active {
		return ErrInvalidCredentials
	}

	if !e.verifier.VerifyStored(current, acct.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := e.cfg.PasswordPolicy.Validate(newPassword); err != nil {
		return err
	}

	reused, err := e.passwordReused(ctx, acct, newPassword)
	if err != nil {
		return e.internalErr("change_password", err)
	}
	if reused {
		e.counters.Inc(metrics.PasswordReuseRejected)
		return ErrPasswordReuse
	}

	newHash, err := e.verifier.Hash(newPassword)
	if err != nil {
		return e.internalErr("change_password", err)
	}

	if err := e.accounts.UpdatePassword(ctx, acct.ID, newHash, acct.PasswordHash, e.cfg.HistoryRetention); err != nil {
		return e.internalErr("change_password", err)
	}

	if err := e.refresh.RevokeAllForAccount(ctx, acct.ID); err != nil {
		return e.internalErr("change_password", err)
	}

	e.counters.Inc(metrics.PasswordChangeSuccess)
	return nil
}
