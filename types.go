package authcore

import (
	"context"
	"time"
)

// Account is the identity row owned by the injected AccountStore. The
// engine mutates credentials only through explicit store operations.
type Account struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	Role         string
	Active       bool
	LastLoginAt  time.Time
	CreatedAt    time.Time
}

// Public strips an Account down to the fields safe to return to clients.
func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:       a.ID,
		Email:    a.Email,
		Username: a.Username,
		Role:     a.Role,
	}
}

// PublicAccount is the client-facing account shape.
type PublicAccount struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// PasswordHistoryEntry is one retained prior password hash.
type PasswordHistoryEntry struct {
	AccountID string
	Hash      string
	CreatedAt time.Time
}

// AccountStore is the injected identity persistence capability.
//
// Create returns ErrDuplicateAccount when the email or username is taken.
// The Find methods return ErrAccountNotFound for a missing row.
//
// UpdatePassword installs newHash as the current credential, appends
// retiredHash to the password history, and prunes history beyond keep
// entries, oldest first. Implementations backed by SQL should run all
// three inside one transaction.
type AccountStore interface {
	Create(ctx context.Context, acct *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	RecordLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, newHash, retiredHash string, keep int) error
	PasswordHistory(ctx context.Context, id string) ([]PasswordHistoryEntry, error)
}

// MessageSender delivers the raw reset secret to the account owner. The
// engine never logs or stores the raw value; this is its only exit path.
type MessageSender interface {
	SendPasswordReset(ctx context.Context, email, resetToken string) error
}

// TokenPair is one issued access/refresh token set.
type TokenPair struct {
	Access           string
	AccessExpiresAt  time.Time
	Refresh          string
	RefreshExpiresAt time.Time
}

// LoginResult is returned by Register, Login, and Refresh.
type LoginResult struct {
	Account PublicAccount
	Tokens  TokenPair
}

// Identity is the verified claim set attached to a request after access
// token validation.
type Identity struct {
	AccountID string
	Email     string
	Role      string
}
