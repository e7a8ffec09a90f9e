package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid is the single failure result of Parse. Signature
// mismatch, structural corruption, and expiry all collapse into it so the
// failure cause cannot be distinguished from outside.
var ErrTokenInvalid = errors.New("invalid or expired token")

// Config configures the access-token codec.
type Config struct {
	// Secret is the server-held HMAC signing key. Required.
	Secret []byte
	// AccessTTL bounds the lifetime of issued tokens. Access tokens carry
	// no revocation list; expiry is the only revocation mechanism.
	AccessTTL time.Duration
	// Issuer is stamped into and required from every token when set.
	Issuer string
	// Leeway tolerates clock skew during validation. Capped at 2 minutes.
	Leeway time.Duration
}

// Claims are the identity claims carried by an access token.
type Claims struct {
	AccountID string `json:"uid"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and validates HS256-signed access tokens.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a token codec.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Manager{config: cfg}, nil
}

// Issue signs a fresh access token for the given identity.
func (m *Manager) Issue(accountID, email, role string) (string, error) {
	now := time.Now()

	claims := Claims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			Issuer:    m.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.Secret)
}

// Parse validates a presented token and returns its claims. Every failure
// path returns ErrTokenInvalid; callers must not branch on the cause.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// AccessTTL reports the configured token lifetime, used by the HTTP layer
// to bound cookie ages.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}
