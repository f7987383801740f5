// Package leveldb provides an airlift.Resolver backed by a leveldb database.
// The database is a persistent cache of key to surrogate id, useful when an
// integration is re-run often enough that rederiving millions of ids per run
// is worth avoiding.
package leveldb

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/airlifthq/airlift"
)

// Resolver implements airlift.Resolver, persisting every resolution. Ids are
// derived with airlift.SurrogateID, so a wiped database resolves the same
// keys to the same ids; durability only saves the derivation and keeps the
// mapping inspectable.
type Resolver struct {
	db *leveldb.DB
}

// NewResolver opens (creating if necessary) a leveldb database in dirname.
func NewResolver(dirname string) (*Resolver, error) {
	db, err := leveldb.OpenFile(dirname, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at '%s'", dirname)
	}
	return &Resolver{db: db}, nil
}

// Close closes the underlying database.
func (r *Resolver) Close() error {
	return errors.Wrap(r.db.Close(), "closing leveldb")
}

// Resolve implements airlift.Resolver.
func (r *Resolver) Resolve(ctx context.Context, keys []airlift.EntityKey) (map[airlift.EntityKey]uuid.UUID, error) {
	out := make(map[airlift.EntityKey]uuid.UUID, len(keys))
	batch := &leveldb.Batch{}
	dirty := false
	for _, key := range keys {
		kb := keyBytes(key)
		val, err := r.db.Get(kb, nil)
		if err == nil {
			id, err := uuid.FromBytes(val)
			if err != nil {
				return nil, errors.Wrapf(err, "bad stored id for key %v", key)
			}
			out[key] = id
			continue
		}
		if err != leveldb.ErrNotFound {
			return nil, errors.Wrap(err, "reading resolved id")
		}
		id := airlift.SurrogateID(key)
		out[key] = id
		batch.Put(kb, id[:])
		dirty = true
	}
	if dirty {
		if err := r.db.Write(batch, nil); err != nil {
			return nil, errors.Wrap(err, "writing resolved ids")
		}
	}
	return out, nil
}

func keyBytes(key airlift.EntityKey) []byte {
	bs := make([]byte, 0, 16+len(key.EntityID))
	bs = append(bs, key.EntitySetID[:]...)
	bs = append(bs, key.EntityID...)
	return bs
}
