package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/peer"
	"github.com/hackgods/appointment-replication/internal/projection"
	"github.com/hackgods/appointment-replication/internal/saga"
)

type ProjectionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*projection.Projection, bool, error)
}

type ProjectionRebuilder interface {
	Rebuild(ctx context.Context, entityID uuid.UUID) (*projection.Projection, error)
}

type SagaHistory interface {
	History(ctx context.Context, entityID uuid.UUID) ([]saga.Event, error)
}

type PeerHealth interface {
	Check(ctx context.Context) []peer.Health
}

// localOnly marks every request as a peer hop so the handlers behind it never
// fan out again, whether or not the caller set the header.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(peer.WithHop(r.Context())))
	})
}

// internalAppointmentHandler is the peer fallback target. It answers with
// the bare entity so the calling peer can decode it as is.
func internalAppointmentHandler(svc AppointmentService, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		appt, _, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func projectionHandler(reader ProjectionReader, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		p, fromPeer, err := reader.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		if fromPeer {
			w.Header().Set(OriginHeader, "peer")
		} else {
			w.Header().Set(OriginHeader, "local")
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func rebuildProjectionHandler(replayer ProjectionRebuilder, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		p, err := replayer.Rebuild(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		if p == nil {
			writeError(w, http.StatusNotFound, "no_events", "no events recorded for this entity")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func sagaHistoryHandler(sagas SagaHistory, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		steps, err := sagas.History(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		if len(steps) == 0 {
			writeError(w, http.StatusNotFound, "saga_not_found", "no saga steps recorded for this entity")
			return
		}
		writeJSON(w, http.StatusOK, steps)
	}
}

func peerHealthHandler(peers PeerHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, peers.Check(r.Context()))
	}
}
