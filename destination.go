package airlift

import (
	"context"

	"github.com/google/uuid"
)

// Destination writes transformed graph elements to one storage backend. Both
// methods receive the resolved surrogate id for every key they will touch and
// the per-entity-set update policy, and return the number of elements
// written. Implementations must treat re-delivery of the same resolved ids as
// an upsert; the scheduler retries whole jobs, never partial batches.
type Destination interface {
	IntegrateEntities(ctx context.Context, entities []Entity, resolved map[EntityKey]uuid.UUID, updates map[uuid.UUID]UpdateType) (int64, error)
	IntegrateAssociations(ctx context.Context, associations []Association, resolved map[EntityKey]uuid.UUID, updates map[uuid.UUID]UpdateType) (int64, error)
}
