package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers every login failure cause: unknown
	// account, inactive account, wrong password. Callers cannot tell them
	// apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateAccount is returned by Register when the email or
	// username is already taken.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrAccountNotFound is returned by AccountStore implementations for a
	// missing row. The engine collapses it before it leaves a flow.
	ErrAccountNotFound = errors.New("account not found")
	// ErrRefreshInvalid covers every refresh failure cause: undecodable,
	// unknown, expired, revoked, wrong secret, fingerprint mismatch.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrResetInvalid covers every reset-token failure cause.
	ErrResetInvalid = errors.New("invalid or expired reset token")
	// ErrPasswordReuse is returned when a new password matches the current
	// one or any retained history entry.
	ErrPasswordReuse = errors.New("new password was used recently")
	// ErrRateLimited is the class wrapped by RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps store and crypto failures. The caller
	// sees a generic failure; detail is logged server-side.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
)

// RateLimitedError is returned when a flow-level rate policy denies the
// attempt. It unwraps to ErrRateLimited and carries the retry hint for the
// Retry-After header.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

func wrapBackend(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
