// Command authd runs the credential-trust core as a standalone HTTP
// service backed by Redis and an in-memory account store. Deployments
// embedding the engine replace the store with their own AccountStore.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	authcore "github.com/cmskit/authcore"
	"github.com/cmskit/authcore/httpapi"
	"github.com/cmskit/authcore/memstore"
)

// logSender is the development delivery path: it logs that a reset link
// was issued without the token itself.
type logSender struct {
	logger *slog.Logger
}

func (s logSender) SendPasswordReset(_ context.Context, email, _ string) error {
	s.logger.Info("password reset link issued", "email", email)
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// A missing .env is fine; real environments configure the process
	// directly.
	_ = godotenv.Load()

	cfg, err := authcore.LoadEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	redisAddr := os.Getenv("AUTH_REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = rdb.Close() }()

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(memstore.New()).
		WithSender(logSender{logger: logger}).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Error("engine build failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	listenAddr := os.Getenv("AUTH_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           httpapi.NewHandler(engine, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("authd listening", "addr", listenAddr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
