package authcore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cmskit/authcore/internal/rate"
	"github.com/cmskit/authcore/password"
)

const (
	// EnvProduction requires a configured signing secret.
	EnvProduction = "production"
	// EnvDevelopment allows an ephemeral random signing secret.
	EnvDevelopment = "development"

	minSigningSecretLen = 32
)

// Config is the engine configuration. Zero values are filled from
// defaultConfig by the Builder; Validate rejects out-of-range settings
// before an Engine is built.
type Config struct {
	// Environment is EnvProduction or EnvDevelopment.
	Environment string

	// SigningSecret signs access tokens. Required in production; in
	// development an ephemeral random secret is generated with a loud
	// warning, invalidating all tokens on restart.
	SigningSecret []byte

	// Issuer is stamped into access-token claims and enforced on parse.
	Issuer string

	// AccessTokenTTL bounds the blast radius of a stolen access token.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL is the lifetime of one refresh chain link.
	RefreshTokenTTL time.Duration
	// ResetTokenTTL is the reset-link lifetime, bounded 1-1440 minutes.
	ResetTokenTTL time.Duration

	// HistoryRetention is the password-history depth, bounded 1-10.
	HistoryRetention int

	// CookieSameSite is "strict", "lax", or "none".
	CookieSameSite string

	// Argon holds the argon2id work factors.
	Argon password.Config
	// PasswordPolicy is the strength policy for new passwords.
	PasswordPolicy password.Policy
	// Limits holds the rate-limit policies.
	Limits rate.Policies

	// LimiterSweepInterval is how often the local fallback limiter store
	// evicts idle entries.
	LimiterSweepInterval time.Duration
}

func defaultConfig() Config {
	return Config{
		Environment:          EnvDevelopment,
		Issuer:               "authcore",
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      30 * 24 * time.Hour,
		ResetTokenTTL:        30 * time.Minute,
		HistoryRetention:     5,
		CookieSameSite:       "lax",
		Argon:                password.DefaultConfig(),
		PasswordPolicy:       password.DefaultPolicy(),
		Limits:               rate.DefaultPolicies(),
		LimiterSweepInterval: 10 * time.Minute,
	}
}

// Validate rejects out-of-range settings. Build calls it; callers that
// assemble a Config by hand can call it early for better error locality.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvProduction, EnvDevelopment:
	default:
		return fmt.Errorf("invalid environment %q", c.Environment)
	}

	if c.Environment == EnvProduction && len(c.SigningSecret) == 0 {
		return errors.New("signing secret is required in production")
	}
	if len(c.SigningSecret) > 0 && len(c.SigningSecret) < minSigningSecretLen {
		return fmt.Errorf("signing secret must be at least %d bytes", minSigningSecretLen)
	}

	if c.AccessTokenTTL <= 0 {
		return errors.New("access token ttl must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return errors.New("refresh token ttl must be positive")
	}
	if c.ResetTokenTTL < time.Minute || c.ResetTokenTTL > 1440*time.Minute {
		return errors.New("reset token ttl must be between 1 and 1440 minutes")
	}

	if c.HistoryRetention < 1 || c.HistoryRetention > 10 {
		return errors.New("password history retention must be between 1 and 10")
	}

	switch c.CookieSameSite {
	case "strict", "lax", "none":
	default:
		return fmt.Errorf("invalid cookie samesite %q", c.CookieSameSite)
	}

	return nil
}

// LoadEnv builds a Config from AUTH_* environment variables, starting
// from the defaults. Unset variables keep their default.
//
//	AUTH_ENV                  production | development
//	AUTH_SIGNING_SECRET       access-token signing secret
//	AUTH_ISSUER               token issuer
//	AUTH_ACCESS_TTL_MINUTES   access-token lifetime
//	AUTH_REFRESH_TTL_DAYS     refresh-token lifetime
//	AUTH_RESET_TTL_MINUTES    reset-link lifetime (1-1440)
//	AUTH_HISTORY_RETENTION    password-history depth (1-10)
//	AUTH_COOKIE_SAMESITE      strict | lax | none
func LoadEnv() (Config, error) {
	cfg := defaultConfig()

	if v := os.Getenv("AUTH_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("AUTH_SIGNING_SECRET"); v != "" {
		cfg.SigningSecret = []byte(v)
	}
	if v := os.Getenv("AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("AUTH_COOKIE_SAMESITE"); v != "" {
		cfg.CookieSameSite = v
	}

	if err := envDuration("AUTH_ACCESS_TTL_MINUTES", time.Minute, &cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if err := envDuration("AUTH_REFRESH_TTL_DAYS", 24*time.Hour, &cfg.RefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if err := envDuration("AUTH_RESET_TTL_MINUTES", time.Minute, &cfg.ResetTokenTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("AUTH_HISTORY_RETENTION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("AUTH_HISTORY_RETENTION: %w", err)
		}
		cfg.HistoryRetention = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envDuration(name string, unit time.Duration, out *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*out = time.Duration(n) * unit

	return nil
}
