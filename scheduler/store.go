package scheduler

import (
	"context"

	"github.com/google/uuid"
)

// JobStore is the durable map of job id to job record. Implementations must
// make PutIfAbsent atomic; it is how job ids are claimed.
type JobStore interface {
	// PutIfAbsent stores the job under id only if no record exists there,
	// reporting whether the claim won.
	PutIfAbsent(id uuid.UUID, job Job) (bool, error)
	Put(id uuid.UUID, job Job) error
	Get(id uuid.UUID) (Job, bool, error)
	// All returns a snapshot of every job record.
	All() (map[uuid.UUID]Job, error)
	Delete(id uuid.UUID) error
}

// IntegrationStore is the durable map of integration name to definition.
type IntegrationStore interface {
	PutIfAbsent(name string, integration Integration) (bool, error)
	Put(name string, integration Integration) error
	Get(name string) (Integration, bool, error)
	Delete(name string) error
}

// JobQueue is the durable FIFO of job ids awaiting dispatch. Take blocks
// until an id is available or the context is done.
type JobQueue interface {
	Enqueue(id uuid.UUID) error
	Take(ctx context.Context) (uuid.UUID, error)
}
