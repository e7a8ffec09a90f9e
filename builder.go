package authcore

import (
	"crypto/rand"
	"errors"
	"log/slog"

	"github.com/cmskit/authcore/internal/metrics"
	"github.com/cmskit/authcore/internal/rate"
	"github.com/cmskit/authcore/internal/stores"
	"github.com/cmskit/authcore/jwt"
	"github.com/cmskit/authcore/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts AccountStore
	sender   MessageSender
	logger   *slog.Logger

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing token stores and the shared
// rate-limit store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the injected identity persistence.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithSender sets the reset-link delivery capability.
func (b *Builder) WithSender(sender MessageSender) *Builder {
	b.sender = sender
	return b
}

// WithLogger sets the engine logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration, wires the stores, and returns a
// ready Engine. The Engine owns the local limiter store; call Close on
// shutdown.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store is required")
	}
	if b.sender == nil {
		return nil, errors.New("message sender is required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(cfg.SigningSecret) == 0 {
		// Development only: Validate already rejected this in production.
		secret := make([]byte, minSigningSecretLen)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		cfg.SigningSecret = secret
		logger.Warn("no signing secret configured, generated an ephemeral one; " +
			"all issued tokens become invalid on restart")
	}

	verifier, err := password.NewVerifier(cfg.Argon)
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		Secret:    cfg.SigningSecret,
		AccessTTL: cfg.AccessTokenTTL,
		Issuer:    cfg.Issuer,
	})
	if err != nil {
		return nil, err
	}

	counters := metrics.New()
	limiter := rate.NewLimiter(
		rate.NewRedisStore(b.redis, ""),
		rate.NewLocalStore(cfg.LimiterSweepInterval),
		logger,
		rate.WithFallbackHook(func() { counters.Inc(metrics.LimiterFallback) }),
	)

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		redis:    b.redis,
		verifier: verifier,
		tokens:   tokens,
		refresh:  stores.NewRefreshStore(b.redis, ""),
		resets:   stores.NewResetStore(b.redis, ""),
		limiter:  limiter,
		accounts: b.accounts,
		sender:   b.sender,
		counters: counters,
	}, nil
}
