package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cmskit/authcore/internal/metrics"
	"github.com/google/uuid"
)

// Register creates an account and opens a session for it. Email and
// username uniqueness is enforced by the AccountStore; a duplicate
// surfaces as ErrDuplicateAccount.
func (e *Engine) Register(ctx context.Context, email, username, plaintext string) (*LoginResult, error) {
	email = normalizeEmail(email)
	username = strings.TrimSpace(username)

	if err := e.cfg.PasswordPolicy.Validate(plaintext); err != nil {
		return nil, err
	}

	hash, err := e.verifier.Hash(plaintext)
	if err != nil {
		return nil, e.internalErr("register", err)
	}

	acct := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         "user",
		Active:       true,
		CreatedAt:    time.Now(),
	}

	if err := e.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			e.counters.Inc(metrics.RegisterDuplicate)
			return nil, ErrDuplicateAccount
		}
		return nil, e.internalErr("register", err)
	}

	tokens, err := e.issueSession(ctx, acct, true)
	if err != nil {
		return nil, e.internalErr("register", err)
	}

	e.counters.Inc(metrics.RegisterSuccess)
	return &LoginResult{Account: acct.Public(), Tokens: tokens}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
