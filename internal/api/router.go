package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/peer"
)

type RouterConfig struct {
	Appointments AppointmentService
	Projections  ProjectionReader
	Replayer     ProjectionRebuilder
	Sagas        SagaHistory
	Peers        PeerHealth
	Health       *HealthHandler
	Metrics      http.Handler // optional, mounted at /metrics
	Log          logrus.FieldLogger
	Now          func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(correlation.Middleware)
	r.Use(peer.HopMiddleware)
	r.Use(LoggingMiddleware(log))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Appointments, log))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments, log))
		r.Patch("/{id}", updateAppointmentHandler(cfg.Appointments, log))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, log))
		r.Post("/{id}/record", attachRecordHandler(cfg.Appointments, log))
	})
	r.Get("/physicians/{id}/slots", availableSlotsHandler(cfg.Appointments, log, now))
	if cfg.Projections != nil {
		r.Get("/projections/{id}", projectionHandler(cfg.Projections, log))
	}

	// Peer and operator surface. Reads here never fan out to other peers.
	r.Route("/internal", func(r chi.Router) {
		r.Use(localOnly)
		r.Get("/appointments/{id}", internalAppointmentHandler(cfg.Appointments, log))
		if cfg.Projections != nil {
			r.Get("/projections/{id}", projectionHandler(cfg.Projections, log))
		}
		if cfg.Replayer != nil {
			r.Post("/projections/{id}/rebuild", rebuildProjectionHandler(cfg.Replayer, log))
		}
		if cfg.Sagas != nil {
			r.Get("/sagas/{id}", sagaHistoryHandler(cfg.Sagas, log))
		}
		if cfg.Peers != nil {
			r.Get("/peers/health", peerHealthHandler(cfg.Peers))
		}
	})

	return r
}
