package projection

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrProjectionNotFound = errors.New("projection not found")

// Repository stores projections keyed by appointment id. Upsert is the only
// write, which keeps duplicate deliveries harmless.
type Repository interface {
	Get(ctx context.Context, appointmentID uuid.UUID) (*Projection, error)
	// Upsert writes p unless the stored row has a later LastUpdated. It
	// reports whether the row was written.
	Upsert(ctx context.Context, p *Projection) (bool, error)
}
