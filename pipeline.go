package airlift

import (
	"context"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of rows chunked into one batch when the
// pipeline is not configured otherwise.
const DefaultBatchSize = 100000

// Plan pairs a flight with the source its rows come from.
type Plan struct {
	Flight *Flight
	Source Source
}

// Pipeline executes plans: for each plan it pulls rows from the source,
// transforms them in parallel batches, resolves entity keys to surrogate ids,
// and hands the results to the destination writers. Plans run sequentially;
// batches within a plan run concurrently with bounded buffering between the
// producer and the consumers.
type Pipeline struct {
	Catalog      *Catalog
	Resolver     Resolver
	Destinations map[StorageDestination]Destination

	// BatchSize is the number of rows per batch, DefaultBatchSize if 0.
	BatchSize int
	// Parallelism is the number of concurrent batch consumers per plan.
	// Defaults to GOMAXPROCS.
	Parallelism int
	// QueueDepth is the batch queue capacity. Defaults to Parallelism,
	// minimum 2.
	QueueDepth int
	Log        Logger
}

// NewPipeline makes a Pipeline with default batch size and parallelism.
func NewPipeline(catalog *Catalog, resolver Resolver, destinations map[StorageDestination]Destination) *Pipeline {
	return &Pipeline{
		Catalog:      catalog,
		Resolver:     resolver,
		Destinations: destinations,
	}
}

func (p *Pipeline) logger() Logger {
	if p.Log == nil {
		return NopLogger{}
	}
	return p.Log
}

func (p *Pipeline) batchSize() int {
	if p.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return p.BatchSize
}

func (p *Pipeline) parallelism() int {
	if p.Parallelism <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return p.Parallelism
}

// Run executes every plan in order and returns the total number of graph
// elements written. A failing plan stops the run; totals for plans already
// completed are still included in the returned count.
func (p *Pipeline) Run(ctx context.Context, plans []Plan) (int64, error) {
	start := time.Now()
	var total int64
	for _, plan := range plans {
		n, err := p.runPlan(ctx, plan)
		total += n
		if err != nil {
			return total, errors.Wrapf(err, "flight '%s'", plan.Flight.Name)
		}
	}
	p.logger().Printf("run complete: %d elements written in %v", total, time.Since(start))
	return total, nil
}

func (p *Pipeline) runPlan(ctx context.Context, plan Plan) (int64, error) {
	start := time.Now()
	log := p.logger()

	transformer, err := NewTransformer(plan.Flight, p.Catalog, log)
	if err != nil {
		return 0, err
	}
	updates, err := plan.Flight.UpdateTypes(p.Catalog)
	if err != nil {
		return 0, err
	}

	counts := newPlanCounts()
	capacity := p.QueueDepth
	if capacity <= 0 {
		capacity = p.parallelism()
		if capacity < 2 {
			capacity = 2
		}
	}
	// The bounded channel is the backpressure boundary: the producer blocks
	// here when the consumers fall behind.
	batches := make(chan []Row, capacity)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(batches)
		return p.produce(ctx, plan.Source, batches)
	})
	for i := 0; i < p.parallelism(); i++ {
		g.Go(func() error {
			for batch := range batches {
				if err := p.integrateBatch(ctx, transformer, updates, batch, counts); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts.total(), err
	}

	for _, dst := range Destinations {
		ents, assocs := counts.get(dst)
		if ents == 0 && assocs == 0 {
			continue
		}
		log.Printf("flight '%s': %s store: %d entities, %d associations", plan.Flight.Name, dst, ents, assocs)
	}
	log.Printf("flight '%s': %d elements in %v", plan.Flight.Name, counts.total(), time.Since(start))
	return counts.total(), nil
}

// produce drains the source, chunks rows into batches, and enqueues them.
func (p *Pipeline) produce(ctx context.Context, source Source, batches chan<- []Row) error {
	size := p.batchSize()
	batch := make([]Row, 0, size)
	for {
		row, err := source.Record()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading source")
		}
		batch = append(batch, row)
		if len(batch) >= size {
			select {
			case batches <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
			batch = make([]Row, 0, size)
		}
	}
	if len(batch) > 0 {
		select {
		case batches <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) integrateBatch(ctx context.Context, transformer *Transformer, updates map[uuid.UUID]UpdateType, rows []Row, counts *planCounts) error {
	addressed, err := transformer.Transform(rows)
	if err != nil {
		return err
	}
	if addressed.Len() == 0 {
		return nil
	}

	// One resolution per batch covers standalone entities and association
	// endpoints alike, so every reference to a key writes the same id.
	resolved, err := p.Resolver.Resolve(ctx, addressed.Keys())
	if err != nil {
		return errors.Wrap(err, "resolving entity keys")
	}

	for _, dst := range Destinations {
		ents := addressed.Entities[dst]
		assocs := addressed.Associations[dst]
		if len(ents) == 0 && len(assocs) == 0 {
			continue
		}
		writer, ok := p.Destinations[dst]
		if !ok {
			return errors.Errorf("no destination writer configured for %s store", dst)
		}
		if len(ents) > 0 {
			n, err := writer.IntegrateEntities(ctx, ents, resolved, updates)
			counts.addEntities(dst, n)
			if err != nil {
				return errors.Wrapf(err, "integrating entities to %s store", dst)
			}
		}
		if len(assocs) > 0 {
			n, err := writer.IntegrateAssociations(ctx, assocs, resolved, updates)
			counts.addAssociations(dst, n)
			if err != nil {
				return errors.Wrapf(err, "integrating associations to %s store", dst)
			}
		}
	}
	return nil
}

// planCounts accumulates per-destination element counts from concurrent batch
// consumers. Counts are increment-only and eventually consistent while a plan
// is running; they are exact once the errgroup has been waited on.
type planCounts struct {
	entities     map[StorageDestination]*int64
	associations map[StorageDestination]*int64
}

func newPlanCounts() *planCounts {
	c := &planCounts{
		entities:     make(map[StorageDestination]*int64),
		associations: make(map[StorageDestination]*int64),
	}
	for _, dst := range Destinations {
		c.entities[dst] = new(int64)
		c.associations[dst] = new(int64)
	}
	return c
}

func (c *planCounts) addEntities(dst StorageDestination, n int64) {
	atomic.AddInt64(c.entities[dst], n)
}

func (c *planCounts) addAssociations(dst StorageDestination, n int64) {
	atomic.AddInt64(c.associations[dst], n)
}

func (c *planCounts) get(dst StorageDestination) (int64, int64) {
	return atomic.LoadInt64(c.entities[dst]), atomic.LoadInt64(c.associations[dst])
}

func (c *planCounts) total() int64 {
	var n int64
	for _, dst := range Destinations {
		e, a := c.get(dst)
		n += e + a
	}
	return n
}
