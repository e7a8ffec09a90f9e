package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/cmskit/authcore/internal/metrics"
	"github.com/cmskit/authcore/internal/stores"
	"github.com/cmskit/authcore/internal/token"
)

// Refresh rotates the presented refresh token and issues a new access
// token. The predecessor is revoked in the same store transaction that
// installs the successor, so a replay of the rotated secret always fails.
//
// A fingerprint mismatch with the right secret is treated as suspected
// theft: the link is revoked without rotating, locking out thief and
// legitimate holder alike. Every failure cause returns ErrRefreshInvalid.
func (e *Engine) Refresh(ctx context.Context, presented string) (*LoginResult, error) {
	id, secret, err := token.Decode(presented)
	if err != nil {
		e.counters.Inc(metrics.RefreshFailure)
		return nil, ErrRefreshInvalid
	}

	nextID, err := token.NewID()
	if err != nil {
		return nil, e.internalErr("refresh", err)
	}
	nextSecret, err := token.NewSecret()
	if err != nil {
		return nil, e.internalErr("refresh", err)
	}

	now := time.Now()
	refreshExpiry := now.Add(e.cfg.RefreshTokenTTL)
	fingerprint := e.fingerprint(ctx)

	successor := &stores.RefreshRecord{
		TokenID:         nextID.String(),
		SecretHash:      nextSecret.Hash(),
		FingerprintHash: fingerprint,
		IssuedAt:        now.Unix(),
		ExpiresAt:       refreshExpiry.Unix(),
	}

	retired, err := e.refresh.Rotate(ctx, id.String(), secret.Hash(), fingerprint, successor)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrRefreshFingerprintMismatch):
			e.counters.Inc(metrics.RefreshTheftSuspected)
			e.counters.Inc(metrics.RefreshFailure)
			e.logger.Warn("refresh fingerprint mismatch, link revoked",
				"token_id", id.String())
			return nil, ErrRefreshInvalid
		case errors.Is(err, stores.ErrRefreshNotFound),
			errors.Is(err, stores.ErrRefreshRevoked),
			errors.Is(err, stores.ErrRefreshExpired),
			errors.Is(err, stores.ErrRefreshSecretMismatch):
			e.counters.Inc(metrics.RefreshFailure)
			return nil, ErrRefreshInvalid
		default:
			return nil, e.internalErr("refresh", err)
		}
	}

	acct, err := e.accounts.FindByID(ctx, retired.AccountID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		// Backend failure, not a verdict on the account. The successor just
		// installed is revoked so no orphaned link survives the error.
		_ = e.refresh.Revoke(ctx, successor.TokenID)
		return nil, e.internalErr("refresh", err)
	}
	if err != nil || !acct.Active {
		// The account vanished or was deactivated mid-chain. The successor
		// just installed is revoked so the chain dies here.
		_ = e.refresh.Revoke(ctx, successor.TokenID)
		e.counters.Inc(metrics.RefreshFailure)
		return nil, ErrRefreshInvalid
	}

	access, err := e.tokens.Issue(acct.ID, acct.Email, acct.Role)
	if err != nil {
		return nil, e.internalErr("refresh", err)
	}

	e.counters.Inc(metrics.RefreshSuccess)
	return &LoginResult{
		Account: acct.Public(),
		Tokens: TokenPair{
			Access:           access,
			AccessExpiresAt:  now.Add(e.tokens.AccessTTL()),
			Refresh:          token.Encode(nextID, nextSecret),
			RefreshExpiresAt: refreshExpiry,
		},
	}, nil
}
