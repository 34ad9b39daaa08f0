// Command replay-worker periodically rebuilds every appointment projection
// from the event store, repairing read models that drifted from history.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/config"
	"github.com/hackgods/appointment-replication/internal/db"
	"github.com/hackgods/appointment-replication/internal/eventstore"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/metrics"
	"github.com/hackgods/appointment-replication/internal/projection"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}

	log := logger.New(cfg.LogLevel).WithFields(logrus.Fields{
		"service": cfg.ServiceName + "-replay",
		"env":     cfg.Env,
	})
	log.WithField("interval", cfg.ReplayInterval).Info("replay-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err == nil {
		err = db.Migrate(pgCtx, pgPool)
	}
	cancelPg()
	if err != nil {
		log.WithError(err).Fatal("postgres connection error")
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	replayer := projection.NewReplayer(
		eventstore.NewPgStore(pgPool),
		projection.NewPgRepository(pgPool),
		log,
		metrics.Default(),
	)

	// Run once at startup
	runOnce(rootCtx, replayer, log)

	ticker := time.NewTicker(cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping replay worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, replayer, log)
		}
	}
}

func runOnce(ctx context.Context, replayer *projection.Replayer, log logrus.FieldLogger) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	n, err := replayer.RebuildAll(runCtx)
	if err != nil {
		log.WithError(err).WithField("rebuilt", n).Error("replay run error")
		return
	}
	log.WithFields(logrus.Fields{
		"rebuilt":  n,
		"duration": time.Since(start).String(),
	}).Info("replay run complete")
}
