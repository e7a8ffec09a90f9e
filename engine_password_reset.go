package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/cmskit/authcore/internal/metrics"
	"github.com/cmskit/authcore/internal/stores"
	"github.com/cmskit/authcore/internal/token"
)

// RequestPasswordReset mints a single-use reset token and hands its raw
// secret to the injected sender. The caller always receives the same nil
// result whether or not the account exists; only rate-limit and backend
// failures surface.
//
// The reset policy keys on the submitted email, not the caller, so a
// distributed attack on one mailbox hits the same counter.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	if d := e.limiter.Hit(ctx, "email:"+email, e.cfg.Limits.PasswordReset); !d.Allowed {
		e.counters.Inc(metrics.RateLimitHit)
		return &RateLimitedError{RetryAfter: d.RetryAfter}
	}

	// Token material is generated before the account lookup so the
	// no-account path does comparable work.
	id, err := token.NewID()
	if err != nil {
		return e.internalErr("reset_request", err)
	}
	secret, err := token.NewSecret()
	if err != nil {
		return e.internalErr("reset_request", err)
	}
	secretHash := secret.Hash()

	acct, err := e.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return e.internalErr("reset_request", err)
	}
	if !acct.Active {
		return nil
	}

	// A new request supersedes every earlier unused link.
	if err := e.resets.InvalidateForAccount(ctx, acct.ID); err != nil {
		return e.internalErr("reset_request", err)
	}

	rec := &stores.ResetRecord{
		TokenID:    id.String(),
		AccountID:  acct.ID,
		SecretHash: secretHash,
		ExpiresAt:  time.Now().Add(e.cfg.ResetTokenTTL).Unix(),
	}
	if err := e.resets.Save(ctx, rec); err != nil {
		return e.internalErr("reset_request", err)
	}

	// The raw secret goes to the sender and nowhere else.
	if err := e.sender.SendPasswordReset(ctx, acct.Email, token.Encode(id, secret)); err != nil {
		e.logger.Error("reset delivery failed", "account_id", acct.ID, "error", err)
		return nil
	}

	e.counters.Inc(metrics.ResetRequest)
	return nil
}

// ConfirmPasswordReset redeems a reset token and installs the new
// password. The unused-to-used transition is a conditional store update;
// of two concurrent redemptions exactly one passes it. On success every
// refresh token the account holds is revoked.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, presented, newPassword string) error {
	id, secret, err := token.Decode(presented)
	if err != nil {
		e.counters.Inc(metrics.ResetConfirmFailure)
		return ErrResetInvalid
	}

	if err := e.cfg.PasswordPolicy.Validate(newPassword); err != nil {
		return err
	}

	rec, err := e.resets.Get(ctx, id.String())
	if err != nil {
		return e.resetFailure(err)
	}
	if rec.Used {
		e.counters.Inc(metrics.ResetConfirmFailure)
		return ErrResetInvalid
	}

	providedHash := secret.Hash()
	if subtle.ConstantTimeCompare(rec.SecretHash[:], providedHash[:]) != 1 {
		e.counters.Inc(metrics.ResetConfirmFailure)
		return ErrResetInvalid
	}

	acct, err := e.accounts.FindByID(ctx, rec.AccountID)
	if err != nil || !acct.Active {
		e.counters.Inc(metrics.ResetConfirmFailure)
		return ErrResetInvalid
	}

	reused, err := e.passwordReused(ctx, acct, newPassword)
	if err != nil {
		return e.internalErr("reset_confirm", err)
	}
	if reused {
		e.counters.Inc(metrics.PasswordReuseRejected)
		return ErrPasswordReuse
	}

	newHash, err := e.verifier.Hash(newPassword)
	if err != nil {
		return e.internalErr("reset_confirm", err)
	}

	// Consume first: if a concurrent redemption won the conditional
	// update, no credential change happens here.
	if _, err := e.resets.Consume(ctx, id.String(), providedHash); err != nil {
		return e.resetFailure(err)
	}

	if err := e.accounts.UpdatePassword(ctx, acct.ID, newHash, acct.PasswordHash, e.cfg.HistoryRetention); err != nil {
		return e.internalErr("reset_confirm", err)
	}

	if err := e.refresh.RevokeAllForAccount(ctx, acct.ID); err != nil {
		return e.internalErr("reset_confirm", err)
	}

	e.counters.Inc(metrics.ResetConfirmSuccess)
	return nil
}

func (e *Engine) resetFailure(err error) error {
	switch {
	case errors.Is(err, stores.ErrResetNotFound),
		errors.Is(err, stores.ErrResetUsed),
		errors.Is(err, stores.ErrResetSecretMismatch):
		e.counters.Inc(metrics.ResetConfirmFailure)
		return ErrResetInvalid
	default:
		return e.internalErr("reset_confirm", err)
	}
}
