package airlift

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Resolver maps natural entity keys to stable surrogate ids. Resolve is
// batched and must be idempotent: the same key resolves to the same id within
// a batch, across batches, and across runs. That stability is what makes
// destination writes safe to repeat.
type Resolver interface {
	Resolve(ctx context.Context, keys []EntityKey) (map[EntityKey]uuid.UUID, error)
}

// SurrogateID derives the canonical surrogate id for a key: a SHA1 UUID in
// the entity set's namespace. Any two resolvers using this derivation agree
// without coordinating.
func SurrogateID(key EntityKey) uuid.UUID {
	return uuid.NewSHA1(key.EntitySetID, []byte(key.EntityID))
}

// MapResolver is an in-memory Resolver. The cache only saves rederivation
// work; because ids come from SurrogateID, separate MapResolvers (and
// separate processes) resolve identically.
type MapResolver struct {
	mu  sync.RWMutex
	ids map[EntityKey]uuid.UUID
}

// NewMapResolver makes an empty MapResolver.
func NewMapResolver() *MapResolver {
	return &MapResolver{ids: make(map[EntityKey]uuid.UUID)}
}

// Resolve implements Resolver.
func (m *MapResolver) Resolve(ctx context.Context, keys []EntityKey) (map[EntityKey]uuid.UUID, error) {
	out := make(map[EntityKey]uuid.UUID, len(keys))
	missing := keys[:0:0]
	m.mu.RLock()
	for _, k := range keys {
		if id, ok := m.ids[k]; ok {
			out[k] = id
		} else {
			missing = append(missing, k)
		}
	}
	m.mu.RUnlock()
	if len(missing) == 0 {
		return out, nil
	}
	m.mu.Lock()
	for _, k := range missing {
		id, ok := m.ids[k]
		if !ok {
			id = SurrogateID(k)
			m.ids[k] = id
		}
		out[k] = id
	}
	m.mu.Unlock()
	return out, nil
}
