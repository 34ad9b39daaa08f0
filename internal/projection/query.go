package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/logger"
)

const peerResource = "projections"

type PeerResolver interface {
	Resolve(ctx context.Context, resource, id string) ([]byte, error)
}

// Query serves projection reads: the local read model first, then peers.
type Query struct {
	repo  Repository
	peers PeerResolver
	log   logrus.FieldLogger
}

// NewQuery builds a reader; peers may be nil to disable fallback.
func NewQuery(repo Repository, peers PeerResolver, log logrus.FieldLogger) *Query {
	return &Query{repo: repo, peers: peers, log: log.WithField("component", "projection-query")}
}

// Get reports whether the projection came from a peer.
func (q *Query) Get(ctx context.Context, id uuid.UUID) (*Projection, bool, error) {
	p, err := q.repo.Get(ctx, id)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrProjectionNotFound) {
		return nil, false, fmt.Errorf("get projection: %w", err)
	}
	if q.peers == nil {
		return nil, false, ErrProjectionNotFound
	}

	body, err := q.peers.Resolve(ctx, peerResource, id.String())
	if err != nil {
		return nil, false, ErrProjectionNotFound
	}
	var remote Projection
	if err := json.Unmarshal(body, &remote); err != nil || remote.AppointmentID != id {
		logger.FromContext(ctx, q.log).WithField("appointment_id", id).Warn("peer returned an unusable projection body")
		return nil, false, ErrProjectionNotFound
	}
	return &remote, true, nil
}
