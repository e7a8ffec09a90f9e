package rate

import "time"

// Policies bundles the limit classes the engine enforces.
type Policies struct {
	// Login counts failed credential attempts per client IP.
	Login Policy
	// API is the broad per-caller request ceiling.
	API Policy
	// SettingsMutation covers authenticated state changes such as
	// password changes and logout-all.
	SettingsMutation Policy
	// SecretCreation covers operations that mint long-lived secrets,
	// such as API-key issuance. No engine flow consumes it; it is
	// published for embedding services to apply via their own limiter
	// or middleware calls.
	SecretCreation Policy
	// PasswordReset counts reset-email requests per target account.
	PasswordReset Policy
}

// DefaultPolicies returns the stock limit classes.
func DefaultPolicies() Policies {
	return Policies{
		Login: Policy{
			Name:          "login",
			Window:        15 * time.Minute,
			Max:           5,
			BlockDuration: 30 * time.Minute,
			Progressive:   true,
			FailuresOnly:  true,
		},
		API: Policy{
			Name:   "api",
			Window: 15 * time.Minute,
			Max:    300,
		},
		SettingsMutation: Policy{
			Name:          "settings",
			Window:        time.Minute,
			Max:           10,
			BlockDuration: 5 * time.Minute,
		},
		SecretCreation: Policy{
			Name:          "secret",
			Window:        24 * time.Hour,
			Max:           10,
			BlockDuration: 24 * time.Hour,
		},
		PasswordReset: Policy{
			Name:          "pwreset",
			Window:        time.Hour,
			Max:           3,
			BlockDuration: time.Hour,
		},
	}
}
