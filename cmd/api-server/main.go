package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-replication/internal/api"
	"github.com/hackgods/appointment-replication/internal/appointment"
	"github.com/hackgods/appointment-replication/internal/clients"
	"github.com/hackgods/appointment-replication/internal/config"
	"github.com/hackgods/appointment-replication/internal/db"
	"github.com/hackgods/appointment-replication/internal/events"
	"github.com/hackgods/appointment-replication/internal/eventstore"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/metrics"
	"github.com/hackgods/appointment-replication/internal/mq"
	"github.com/hackgods/appointment-replication/internal/peer"
	"github.com/hackgods/appointment-replication/internal/projection"
	redisclient "github.com/hackgods/appointment-replication/internal/redis"
	"github.com/hackgods/appointment-replication/internal/saga"
	"github.com/hackgods/appointment-replication/internal/schedule"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}

	log := logger.New(cfg.LogLevel).WithFields(logrus.Fields{
		"service": cfg.ServiceName,
		"env":     cfg.Env,
	})
	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("api-server stopped with error")
		os.Exit(1)
	}
	log.Info("api-server stopped")
}

func run(cfg config.Config, log *logrus.Entry) error {
	log.WithField("http_port", cfg.HTTPPort).Info("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := cfg.ScheduleRules()
	if err != nil {
		return err
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	if err == nil {
		err = db.Migrate(pgCtx, pgPool)
	}
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("error closing redis")
		}
	}()
	log.Info("connected to Redis")

	// Connect RabbitMQ
	keys := events.NewRoutingKeys(cfg.RoutingKeyPrefix, cfg.RecordRoutingKeyPrefix)
	sender, err := mq.NewPublisher(cfg.RabbitURL, cfg.EventExchange)
	if err != nil {
		return err
	}
	defer sender.Close()
	inbox, err := mq.NewConsumer(mq.ConsumerConfig{
		URL:         cfg.RabbitURL,
		Exchange:    cfg.EventExchange,
		Queue:       cfg.EventQueue,
		Keys:        keys.All(),
		Prefetch:    cfg.ConsumerPrefetch,
		ConsumerTag: cfg.ServiceName + "-" + cfg.HTTPPort,
	})
	if err != nil {
		return err
	}
	defer inbox.Close()
	log.WithField("queue", cfg.EventQueue).Info("connected to RabbitMQ")

	m := metrics.Default()

	// Replication pipeline
	store := eventstore.NewPgStore(pgPool)
	projections := projection.NewPgRepository(pgPool)
	repo := appointment.NewPgRepository(pgPool)
	replica := appointment.NewReplicaWriter(repo, log)
	consumer := projection.NewConsumer(store, projections, replica, keys, log, m)
	replayer := projection.NewReplayer(store, projections, log, m)
	publisher := events.NewPublisher(sender, events.PublisherConfig{
		Keys:                keys,
		PublishRecordEvents: cfg.PublishRecordEvents,
		Source:              cfg.ServiceName,
	}, log, m)
	sagas := saga.NewCoordinator(saga.NewPgRepository(pgPool), log, m)

	// Peers
	configured := make([]peer.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		configured = append(configured, peer.Peer{Name: p.Name, BaseURL: p.BaseURL})
	}
	registry := peer.NewRegistry(cfg.SelfURL, configured)
	peerHTTP := &http.Client{}
	peers := peer.NewClient(registry, peerHTTP, peer.ClientConfig{
		Timeout:   cfg.PeerTimeout,
		CacheTTL:  cfg.PeerCacheTTL,
		CacheSize: cfg.PeerCacheMax,
	}, log, m)
	log.WithField("peers", registry.Len()).Info("peer set loaded")

	// Internal services
	clientOpts := clients.Options{
		Timeout:         cfg.InternalTimeout,
		MaxRetries:      cfg.InternalRetryMax,
		InitialInterval: cfg.InternalRetryInitial,
		ServiceToken:    cfg.InternalServiceToken,
	}

	svc := appointment.NewService(appointment.Deps{
		Repo:       repo,
		Locker:     redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
		Saga:       sagas,
		Calculator: schedule.NewCalculator(rules),
		Publisher:  publisher,
		Projector:  consumer,
		Auth:       clients.NewAuthClient(cfg.AuthServiceURL, clientOpts, log),
		Records:    clients.NewRecordClient(cfg.RecordServiceURL, clientOpts, log),
		Peers:      peers,
		Log:        log,
	})

	health := api.NewHealthHandler(cfg.Env, version,
		api.Dependency{Name: "postgres", Critical: true, Check: pgPool.Ping},
		api.Dependency{Name: "redis", Critical: true, Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
		api.Dependency{Name: "rabbitmq", Check: func(context.Context) error {
			if sender.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
	)

	router := api.NewRouter(api.RouterConfig{
		Appointments: svc,
		Projections:  projection.NewQuery(projections, peers, log),
		Replayer:     replayer,
		Sagas:        sagas,
		Peers:        peer.NewHealthChecker(registry, peerHTTP, cfg.PeerTimeout),
		Health:       health,
		Metrics:      promhttp.Handler(),
		Log:          log,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	deliveries, err := inbox.Deliveries(rootCtx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return consumer.Run(gctx, deliveries)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down api-server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
