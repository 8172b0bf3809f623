package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/peer-tutoring-booking/internal/api"
	"github.com/hackgods/peer-tutoring-booking/internal/auth"
	"github.com/hackgods/peer-tutoring-booking/internal/booking"
	"github.com/hackgods/peer-tutoring-booking/internal/config"
	"github.com/hackgods/peer-tutoring-booking/internal/db"
	"github.com/hackgods/peer-tutoring-booking/internal/logger"
	"github.com/hackgods/peer-tutoring-booking/internal/metrics"
	redisclient "github.com/hackgods/peer-tutoring-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("auth_provider", cfg.Auth.Provider),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	if cfg.AutoMigrate {
		applied, err := db.Migrate(rootCtx, pgPool)
		if err != nil {
			log.Fatal("migration error", zap.Error(err))
		}
		log.Info("migrations applied", zap.Int64("version", applied))
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	verifier, err := newVerifier(rootCtx, cfg.Auth)
	if err != nil {
		log.Fatal("auth setup error", zap.Error(err))
	}

	repo := booking.NewPgRepository(pgPool)
	directory := redisclient.NewCachedDirectory(rdb, booking.NewPgDirectory(pgPool), cfg.NameCacheTTL)
	locker := redisclient.NewRedisTutorLocker(rdb, cfg.LockTTL)
	svc := booking.NewService(repo, directory, locker, log.Named("booking"))

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Verifier: verifier,
		Logger:   log.Named("http"),
		Metrics:  metrics.New(),
		Postgres: pgPool.Ping,
		Redis:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	switch cfg.Provider {
	case config.AuthProviderJWT:
		return auth.NewJWTVerifier(cfg.JWTSigningKey, cfg.JWTIssuer), nil
	default:
		return auth.NewFirebaseVerifier(ctx, cfg.FirebaseCredentialsFile, cfg.FirebaseProjectID)
	}
}
