package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/peer-tutoring-booking/internal/booking"
	"github.com/hackgods/peer-tutoring-booking/internal/config"
	"github.com/hackgods/peer-tutoring-booking/internal/db"
	"github.com/hackgods/peer-tutoring-booking/internal/logger"
)

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

	log.Info("reconcile-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("grace", cfg.ReconcileGrace),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// The reconciler only reads and repairs rows, so it needs neither the
	// tutor lock nor the display-name cache.
	svc := booking.NewService(booking.NewPgRepository(pgPool), nil, nil, log.Named("booking"))

	runOnce(rootCtx, log, svc, cfg.ReconcileGrace)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, svc, cfg.ReconcileGrace)
		}
	}
}

func runOnce(ctx context.Context, log *zap.Logger, svc *booking.Service, grace time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	res, err := svc.Reconcile(runCtx, grace)
	if err != nil {
		log.Error("reconcile run error", zap.Error(err))
		return
	}
	log.Info("reconcile run complete",
		zap.Int("marked", res.Marked),
		zap.Int("released", res.Released),
		zap.Duration("took", time.Since(start)),
	)
}
