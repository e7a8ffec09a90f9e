package authcore_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	authcore "github.com/cmskit/authcore"
	"github.com/cmskit/authcore/memstore"
	"github.com/cmskit/authcore/password"
	"github.com/redis/go-redis/v9"
)

type captureSender struct {
	mu     sync.Mutex
	emails []string
	tokens []string
}

func (s *captureSender) SendPasswordReset(_ context.Context, email, resetToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = append(s.emails, email)
	s.tokens = append(s.tokens, resetToken)
	return nil
}

func (s *captureSender) lastToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		t.Fatal("no reset token was delivered")
	}
	return s.tokens[len(s.tokens)-1]
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func testEngineConfig() authcore.Config {
	cfg, err := authcore.LoadEnv()
	if err != nil {
		panic(err)
	}
	cfg.SigningSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.ResetTokenTTL = 15 * time.Minute
	// Fastest argon2id parameters the verifier accepts.
	cfg.Argon = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*authcore.Config)) (*authcore.Engine, *memstore.Store, *captureSender) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := memstore.New()
	sender := &captureSender{}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithSender(sender).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, store, sender
}

func clientCtx(ip, userAgent string) context.Context {
	ctx := authcore.WithClientIP(context.Background(), ip)
	return authcore.WithUserAgent(ctx, userAgent)
}

func mustRegister(t *testing.T, engine *authcore.Engine, ctx context.Context, email, username, pw string) *authcore.LoginResult {
	t.Helper()

	res, err := engine.Register(ctx, email, username, pw)
	if err != nil {
		t.Fatalf("Register %s failed: %v", username, err)
	}
	return res
}
