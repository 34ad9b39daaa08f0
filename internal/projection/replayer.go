package projection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/eventstore"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/metrics"
)

// Replayer rebuilds projections from scratch out of the event store.
type Replayer struct {
	store   eventstore.Store
	repo    Repository
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewReplayer(store eventstore.Store, repo Repository, log logrus.FieldLogger, m *metrics.Metrics) *Replayer {
	return &Replayer{
		store:   store,
		repo:    repo,
		log:     log.WithField("component", "projection-replayer"),
		metrics: m,
	}
}

// Rebuild folds the full history of entityID and persists the result.
// It returns nil without error when the entity has no history.
func (r *Replayer) Rebuild(ctx context.Context, entityID uuid.UUID) (*Projection, error) {
	log := logger.FromContext(ctx, r.log).WithField("entity_id", entityID)

	entries, err := r.store.ListByEntity(ctx, entityID)
	if err != nil {
		r.metrics.ProjectionRebuilt("failed")
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(entries) == 0 {
		log.Warn("no events found, nothing to rebuild")
		r.metrics.ProjectionRebuilt("empty")
		return nil, nil
	}

	p := r.Fold(entries)
	if p == nil {
		log.Warn("history produced no projection")
		r.metrics.ProjectionRebuilt("empty")
		return nil, nil
	}

	written, err := r.repo.Upsert(ctx, p)
	if err != nil {
		r.metrics.ProjectionRebuilt("failed")
		return nil, err
	}
	if !written {
		// a newer event landed while the history was being folded
		current, err := r.repo.Get(ctx, entityID)
		if err != nil {
			r.metrics.ProjectionRebuilt("failed")
			return nil, fmt.Errorf("load newer projection: %w", err)
		}
		log.WithField("last_updated", current.LastUpdated).Info("newer projection kept")
		r.metrics.ProjectionRebuilt("superseded")
		return current, nil
	}

	log.WithField("events", len(entries)).Info("projection rebuilt")
	r.metrics.ProjectionRebuilt("ok")
	return p, nil
}

// Fold applies entries left to right. An entry that cannot be decoded is
// logged and skipped so the rest of the history still applies.
func (r *Replayer) Fold(entries []eventstore.Entry) *Projection {
	var p *Projection
	for _, e := range entries {
		ev, err := e.Decode()
		if err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"entity_id": e.EntityID,
				"seq":       e.Seq,
			}).Error("skipping corrupt event store entry")
			continue
		}

		next, ok := Apply(p, ev)
		if !ok {
			r.log.WithFields(logrus.Fields{
				"entity_id":  e.EntityID,
				"event_type": e.EventType,
			}).Warn("skipping unknown event type during replay")
			continue
		}
		p = next
	}
	return p
}

// RebuildAll rebuilds every entity in the store and returns how many
// projections were written. A failure on one entity does not stop the rest.
func (r *Replayer) RebuildAll(ctx context.Context) (int, error) {
	ids, err := r.store.EntityIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entities: %w", err)
	}

	rebuilt := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		p, err := r.Rebuild(ctx, id)
		if err != nil {
			r.log.WithError(err).WithField("entity_id", id).Error("rebuild failed")
			continue
		}
		if p != nil {
			rebuilt++
		}
	}
	return rebuilt, nil
}
