package airlift

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
)

// countingDestination records integrated elements and checks that every
// element arrives with a resolved id.
type countingDestination struct {
	entities     int64
	associations int64

	mu  sync.Mutex
	ids map[EntityKey]uuid.UUID
}

func newCountingDestination() *countingDestination {
	return &countingDestination{ids: make(map[EntityKey]uuid.UUID)}
}

func (d *countingDestination) IntegrateEntities(ctx context.Context, entities []Entity, resolved map[EntityKey]uuid.UUID, updates map[uuid.UUID]UpdateType) (int64, error) {
	for _, e := range entities {
		id, ok := resolved[e.Key]
		if !ok {
			return 0, fmt.Errorf("unresolved key %v", e.Key)
		}
		d.mu.Lock()
		if prev, seen := d.ids[e.Key]; seen && prev != id {
			d.mu.Unlock()
			return 0, fmt.Errorf("key %v resolved to %s then %s", e.Key, prev, id)
		}
		d.ids[e.Key] = id
		d.mu.Unlock()
	}
	atomic.AddInt64(&d.entities, int64(len(entities)))
	return int64(len(entities)), nil
}

func (d *countingDestination) IntegrateAssociations(ctx context.Context, associations []Association, resolved map[EntityKey]uuid.UUID, updates map[uuid.UUID]UpdateType) (int64, error) {
	for _, a := range associations {
		for _, k := range []EntityKey{a.Key, a.Src, a.Dst} {
			if _, ok := resolved[k]; !ok {
				return 0, fmt.Errorf("unresolved key %v", k)
			}
		}
	}
	atomic.AddInt64(&d.associations, int64(len(associations)))
	return int64(len(associations)), nil
}

func rowsFor(n int) []Row {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, Row{
			"ssn":       fmt.Sprintf("ssn-%d", i),
			"full_name": fmt.Sprintf("person %d", i),
		})
	}
	return rows
}

func TestPipelineBackpressure(t *testing.T) {
	const rows = 250
	catalog, _ := newTestCatalog()
	for _, depth := range []int{1, 2, 100} {
		dest := newCountingDestination()
		p := NewPipeline(catalog, NewMapResolver(), map[StorageDestination]Destination{
			PrimaryStore: dest,
		})
		p.BatchSize = 10 // many more batches than any queue depth
		p.Parallelism = 4
		p.QueueDepth = depth

		total, err := p.Run(context.Background(), []Plan{
			{Flight: personFlight(), Source: NewSliceSource(rowsFor(rows)...)},
		})
		if err != nil {
			t.Fatalf("depth %d: %v", depth, err)
		}
		if total != rows {
			t.Fatalf("depth %d: expected %d elements, got %d", depth, rows, total)
		}
		if got := atomic.LoadInt64(&dest.entities); got != rows {
			t.Fatalf("depth %d: destination saw %d entities", depth, got)
		}
	}
}

func TestPipelineAssociations(t *testing.T) {
	catalog, _ := newTestCatalog()
	dest := newCountingDestination()
	p := NewPipeline(catalog, NewMapResolver(), map[StorageDestination]Destination{
		PrimaryStore: dest,
	})
	p.BatchSize = 3

	rows := []Row{
		{"ssn": "1", "full_name": "Ada", "employer": "Engines", "role": "engineer"},
		{"ssn": "2", "full_name": "Grace", "employer": "Navy", "role": "admiral"},
		{"ssn": "3", "full_name": "NoJob"},
	}
	total, err := p.Run(context.Background(), []Plan{
		{Flight: worksAtFlight(), Source: NewSliceSource(rows...)},
	})
	if err != nil {
		t.Fatal(err)
	}
	// 3 people + 2 employers + 2 associations
	if total != 7 {
		t.Fatalf("expected 7 elements, got %d", total)
	}
	if got := atomic.LoadInt64(&dest.associations); got != 2 {
		t.Fatalf("expected 2 associations, got %d", got)
	}
}

func TestPipelineSourceErrorAborts(t *testing.T) {
	catalog, _ := newTestCatalog()
	p := NewPipeline(catalog, NewMapResolver(), map[StorageDestination]Destination{
		PrimaryStore: newCountingDestination(),
	})
	p.BatchSize = 1

	bad := SourceFunc(func() (Row, error) {
		return nil, fmt.Errorf("connection lost")
	})
	if _, err := p.Run(context.Background(), []Plan{{Flight: personFlight(), Source: bad}}); err == nil {
		t.Fatal("expected source error to abort the run")
	}
}

// SourceFunc adapts a bare func to a Source for tests.
type SourceFunc func() (Row, error)

func (f SourceFunc) Record() (Row, error) { return f() }

func TestPipelineMissingWriter(t *testing.T) {
	catalog, _ := newTestCatalog()
	flight := personFlight()
	flight.Entities[0].Properties = append(flight.Entities[0].Properties, &PropertyDefinition{
		Type:  "photo",
		Value: ColumnValue{Column: "photo"},
	})
	p := NewPipeline(catalog, NewMapResolver(), map[StorageDestination]Destination{
		PrimaryStore: newCountingDestination(),
	})
	rows := []Row{{"ssn": "1", "full_name": "Ada", "photo": []byte{0x1}}}
	if _, err := p.Run(context.Background(), []Plan{{Flight: flight, Source: NewSliceSource(rows...)}}); err == nil {
		t.Fatal("expected error for unconfigured object-store writer")
	}
}
