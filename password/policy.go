package password

import (
	"errors"
	"unicode"
)

// Policy is the password strength policy applied to new passwords before
// hashing. The zero value is not usable; construct via DefaultPolicy or
// fill every field.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireLetter  bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy returns the strength policy applied when the caller does
// not override it: at least 10 bytes, at most 128, one letter and one digit.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     10,
		MaxLength:     128,
		RequireLetter: true,
		RequireDigit:  true,
	}
}

// ErrWeakPassword is returned by Policy.Validate for any policy violation.
// The cause is deliberately not differentiated beyond this sentinel; the
// HTTP boundary exposes the policy itself, not which rule fired.
var ErrWeakPassword = errors.New("password does not meet strength policy")

// Validate checks candidate against the policy. All rules are evaluated
// before returning so the amount of work does not depend on which rule
// fails first.
func (p Policy) Validate(candidate string) error {
	ok := true

	if len(candidate) < p.MinLength {
		ok = false
	}
	if p.MaxLength > 0 && len(candidate) > p.MaxLength {
		ok = false
	}

	var hasLetter, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if p.RequireLetter && !hasLetter {
		ok = false
	}
	if p.RequireDigit && !hasDigit {
		ok = false
	}
	if p.RequireSpecial && !hasSpecial {
		ok = false
	}

	if !ok {
		return ErrWeakPassword
	}
	return nil
}
