// Package postgres provides the primary-store airlift.Destination, writing
// graph elements into two postgres tables via a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/airlifthq/airlift"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id            uuid PRIMARY KEY,
	entity_set_id uuid NOT NULL,
	properties    jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS entities_entity_set_idx ON entities (entity_set_id);
CREATE TABLE IF NOT EXISTS associations (
	id            uuid PRIMARY KEY,
	entity_set_id uuid NOT NULL,
	src_id        uuid NOT NULL,
	dst_id        uuid NOT NULL,
	properties    jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS associations_entity_set_idx ON associations (entity_set_id);
`

const (
	upsertEntity = `INSERT INTO entities (id, entity_set_id, properties) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET properties = entities.properties || EXCLUDED.properties`
	insertEntity = `INSERT INTO entities (id, entity_set_id, properties) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`
	upsertAssociation = `INSERT INTO associations (id, entity_set_id, src_id, dst_id, properties) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET properties = associations.properties || EXCLUDED.properties`
	insertAssociation = `INSERT INTO associations (id, entity_set_id, src_id, dst_id, properties) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
)

// Writer satisfies airlift.Destination for a postgres database. Writes are
// idempotent: the merge policy upserts on the surrogate id and unions
// property values, and the insert-only policy never touches existing rows, so
// re-running a job converges instead of duplicating.
type Writer struct {
	pool *pgxpool.Pool
	log  airlift.Logger
}

type writerConfig struct {
	maxConns int
	log      airlift.Logger
}

// Option is a functional option to pass to NewWriter.
type Option func(*writerConfig)

// WithLogger returns an Option setting the Writer's logger.
func WithLogger(log airlift.Logger) Option {
	return func(c *writerConfig) {
		c.log = log
	}
}

// WithMaxConns returns an Option capping the connection pool at n
// connections. Zero keeps the pool default.
func WithMaxConns(n int) Option {
	return func(c *writerConfig) {
		if n > 0 {
			c.maxConns = n
		}
	}
}

func poolConfig(dsn string, maxConns int) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parsing dsn")
	}
	if maxConns > 0 {
		pc.MaxConns = int32(maxConns)
	}
	return pc, nil
}

// NewWriter connects a pool to the given DSN and ensures the target tables
// exist.
func NewWriter(ctx context.Context, dsn string, options ...Option) (*Writer, error) {
	cfg := writerConfig{log: airlift.NopLogger{}}
	for _, opt := range options {
		opt(&cfg)
	}
	pc, err := poolConfig(dsn, cfg.maxConns)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errors.Wrap(err, "creating pool")
	}
	w := &Writer{pool: pool, log: cfg.log}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ensuring schema")
	}
	return w, nil
}

// Close releases the connection pool.
func (w *Writer) Close() {
	w.pool.Close()
}

// IntegrateEntities implements airlift.Destination.
func (w *Writer) IntegrateEntities(ctx context.Context, entities []airlift.Entity, resolved map[airlift.EntityKey]uuid.UUID, updates map[uuid.UUID]airlift.UpdateType) (int64, error) {
	batch := &pgx.Batch{}
	for _, e := range entities {
		id, ok := resolved[e.Key]
		if !ok {
			return 0, errors.Errorf("no resolved id for entity key %v", e.Key)
		}
		props, err := marshalProperties(e.Properties)
		if err != nil {
			return 0, err
		}
		batch.Queue(entityQuery(updates[e.Key.EntitySetID]), id, e.Key.EntitySetID, props)
	}
	if err := w.flush(ctx, batch); err != nil {
		return 0, errors.Wrap(err, "writing entities")
	}
	w.log.Debugf("wrote %d entities", len(entities))
	return int64(len(entities)), nil
}

// IntegrateAssociations implements airlift.Destination.
func (w *Writer) IntegrateAssociations(ctx context.Context, associations []airlift.Association, resolved map[airlift.EntityKey]uuid.UUID, updates map[uuid.UUID]airlift.UpdateType) (int64, error) {
	batch := &pgx.Batch{}
	for _, a := range associations {
		id, ok := resolved[a.Key]
		if !ok {
			return 0, errors.Errorf("no resolved id for association key %v", a.Key)
		}
		src, ok := resolved[a.Src]
		if !ok {
			return 0, errors.Errorf("no resolved id for association source %v", a.Src)
		}
		dst, ok := resolved[a.Dst]
		if !ok {
			return 0, errors.Errorf("no resolved id for association destination %v", a.Dst)
		}
		props, err := marshalProperties(a.Properties)
		if err != nil {
			return 0, err
		}
		batch.Queue(associationQuery(updates[a.Key.EntitySetID]), id, a.Key.EntitySetID, src, dst, props)
	}
	if err := w.flush(ctx, batch); err != nil {
		return 0, errors.Wrap(err, "writing associations")
	}
	w.log.Debugf("wrote %d associations", len(associations))
	return int64(len(associations)), nil
}

func (w *Writer) flush(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	res := w.pool.SendBatch(ctx, batch)
	defer res.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func entityQuery(ut airlift.UpdateType) string {
	if ut == airlift.UpdateInsertOnly {
		return insertEntity
	}
	return upsertEntity
}

func associationQuery(ut airlift.UpdateType) string {
	if ut == airlift.UpdateInsertOnly {
		return insertAssociation
	}
	return upsertAssociation
}

// marshalProperties renders a property map to the jsonb column shape:
// property type id to the list of distinct values.
func marshalProperties(props airlift.Properties) ([]byte, error) {
	out := make(map[string][]interface{}, len(props))
	for id, vs := range props {
		out[id.String()] = vs.Values()
	}
	bs, err := json.Marshal(out)
	return bs, errors.Wrap(err, "marshaling properties")
}
