package airlift

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// testCatalog covers a person, an employer, and a works_at association
// between them.
type testIDs struct {
	ssn, fullName, ename, role, photo uuid.UUID
	people, employers, worksAt        uuid.UUID
}

func newTestCatalog() (*Catalog, testIDs) {
	ids := testIDs{
		ssn:      uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		fullName: uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		ename:    uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		role:     uuid.MustParse("00000000-0000-0000-0000-000000000004"),
		photo:    uuid.MustParse("00000000-0000-0000-0000-000000000005"),
	}
	personType := EntityType{ID: uuid.New(), Name: "person", Key: []uuid.UUID{ids.ssn}}
	employerType := EntityType{ID: uuid.New(), Name: "employer", Key: []uuid.UUID{ids.ename}}
	worksAtType := EntityType{ID: uuid.New(), Name: "works_at", Key: []uuid.UUID{ids.role}}

	people := EntitySet{ID: uuid.New(), Name: "people", EntityTypeID: personType.ID}
	employers := EntitySet{ID: uuid.New(), Name: "employers", EntityTypeID: employerType.ID}
	worksAt := EntitySet{ID: uuid.New(), Name: "works_at", EntityTypeID: worksAtType.ID}
	ids.people, ids.employers, ids.worksAt = people.ID, employers.ID, worksAt.ID

	catalog := NewCatalog(
		[]EntitySet{people, employers, worksAt},
		[]EntityType{personType, employerType, worksAtType},
		[]PropertyType{
			{ID: ids.ssn, Name: "ssn", Datatype: TypeString},
			{ID: ids.fullName, Name: "name", Datatype: TypeString},
			{ID: ids.ename, Name: "employerName", Datatype: TypeString},
			{ID: ids.role, Name: "role", Datatype: TypeString},
			{ID: ids.photo, Name: "photo", Datatype: TypeBinary},
		},
	)
	return catalog, ids
}

func personFlight() *Flight {
	return &Flight{
		Name: "people",
		Entities: []*EntityDefinition{{
			Alias:     "person",
			EntitySet: "people",
			Properties: []*PropertyDefinition{
				{Type: "ssn", Value: ColumnValue{Column: "ssn"}},
				{Type: "name", Value: ColumnValue{Column: "full_name"}},
			},
		}},
	}
}

// countingLogger counts Printf calls matching a substring.
type countingLogger struct {
	mu      sync.Mutex
	needle  string
	matches int
}

func (l *countingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.Contains(fmt.Sprintf(format, v...), l.needle) {
		l.matches++
	}
}

func (l *countingLogger) Debugf(format string, v ...interface{}) {
	l.Printf(format, v...)
}

func TestTransformSingleEntity(t *testing.T) {
	catalog, ids := newTestCatalog()
	tr, err := NewTransformer(personFlight(), catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.Transform([]Row{{"ssn": "123-45-6789", "full_name": "Ada Lovelace"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Entities[PrimaryStore]) != 1 {
		t.Fatalf("expected 1 primary entity, got %d", len(out.Entities[PrimaryStore]))
	}
	if len(out.Entities[ObjectStore]) != 0 {
		t.Fatalf("expected no object-store entities, got %d", len(out.Entities[ObjectStore]))
	}
	e := out.Entities[PrimaryStore][0]
	if e.Key.EntitySetID != ids.people {
		t.Fatalf("wrong entity set %s", e.Key.EntitySetID)
	}
	if e.Key.EntityID != "123-45-6789" {
		t.Fatalf("wrong entity id %q", e.Key.EntityID)
	}
	names := e.Properties[ids.fullName].SortedStrings()
	if len(names) != 1 || names[0] != "Ada Lovelace" {
		t.Fatalf("wrong name values %v", names)
	}
}

func TestTransformSkipsBlankValues(t *testing.T) {
	catalog, _ := newTestCatalog()
	tr, err := NewTransformer(personFlight(), catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.Transform([]Row{
		{"ssn": "  ", "full_name": "No Key"},
		{"full_name": "Also No Key"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("blank key must not materialize, got %d elements", out.Len())
	}
}

func TestTransformConditionalGating(t *testing.T) {
	catalog, _ := newTestCatalog()
	flight := personFlight()
	flight.Entities[0].Condition = NotBlankCondition{Column: "employed"}

	tr, err := NewTransformer(flight, catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.Transform([]Row{
		{"ssn": "1", "full_name": "A", "employed": "yes"},
		{"ssn": "2", "full_name": "B"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(out.Entities[PrimaryStore]); got != 1 {
		t.Fatalf("expected only the gated-in row, got %d entities", got)
	}
	if out.Entities[PrimaryStore][0].Key.EntityID != "1" {
		t.Fatalf("wrong row survived: %q", out.Entities[PrimaryStore][0].Key.EntityID)
	}
}

func worksAtFlight() *Flight {
	f := personFlight()
	f.Entities = append(f.Entities, &EntityDefinition{
		Alias:     "employer",
		EntitySet: "employers",
		Condition: NotBlankCondition{Column: "employer"},
		Properties: []*PropertyDefinition{
			{Type: "employerName", Value: ColumnValue{Column: "employer"}},
		},
	})
	f.Associations = []*AssociationDefinition{{
		Alias:     "job",
		EntitySet: "works_at",
		SrcAlias:  "person",
		DstAlias:  "employer",
		Properties: []*PropertyDefinition{
			{Type: "role", Value: ColumnValue{Column: "role"}},
		},
	}}
	return f
}

func TestTransformAssociation(t *testing.T) {
	catalog, ids := newTestCatalog()
	tr, err := NewTransformer(worksAtFlight(), catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.Transform([]Row{
		{"ssn": "1", "full_name": "Ada", "employer": "Analytical Engines", "role": "engineer"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(out.Entities[PrimaryStore]); got != 2 {
		t.Fatalf("expected person and employer, got %d entities", got)
	}
	assocs := out.Associations[PrimaryStore]
	if len(assocs) != 1 {
		t.Fatalf("expected 1 association, got %d", len(assocs))
	}
	a := assocs[0]
	if a.Key.EntitySetID != ids.worksAt {
		t.Fatalf("wrong association entity set %s", a.Key.EntitySetID)
	}
	if a.Src.EntityID != "1" || a.Dst.EntityID != "Analytical Engines" {
		t.Fatalf("wrong endpoints %v -> %v", a.Src, a.Dst)
	}
}

func TestTransformAssociationSkippedWhenEndpointMissing(t *testing.T) {
	catalog, _ := newTestCatalog()
	log := &countingLogger{needle: "skipping association"}
	tr, err := NewTransformer(worksAtFlight(), catalog, log)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.Transform([]Row{
		{"ssn": "1", "full_name": "Ada", "role": "engineer"}, // no employer
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(out.Entities[PrimaryStore]); got != 1 {
		t.Fatalf("expected only the person, got %d entities", got)
	}
	if got := len(out.Associations[PrimaryStore]); got != 0 {
		t.Fatalf("expected no associations, got %d", got)
	}
	if log.matches != 1 {
		t.Fatalf("expected 1 logged skip, got %d", log.matches)
	}
}

func TestTransformCollectionExpansion(t *testing.T) {
	catalog, ids := newTestCatalog()
	flight := personFlight()
	flight.Entities[0].Properties = append(flight.Entities[0].Properties, &PropertyDefinition{
		Type: "name",
		Value: ValueFunc(func(row Row) (interface{}, error) {
			return []interface{}{"alias one", "alias two"}, nil
		}),
	})
	tr, err := NewTransformer(flight, catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.Transform([]Row{{"ssn": "1", "full_name": "Ada"}})
	if err != nil {
		t.Fatal(err)
	}
	names := out.Entities[PrimaryStore][0].Properties[ids.fullName]
	if len(names) != 3 {
		t.Fatalf("expected 3 distinct name values, got %v", names.SortedStrings())
	}
}

func TestTransformBinaryRouting(t *testing.T) {
	catalog, ids := newTestCatalog()
	flight := personFlight()
	flight.Entities[0].Properties = append(flight.Entities[0].Properties, &PropertyDefinition{
		Type:  "photo",
		Value: ColumnValue{Column: "photo"},
	})
	tr, err := NewTransformer(flight, catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.Transform([]Row{{"ssn": "1", "full_name": "Ada", "photo": []byte{0x1, 0x2}}})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(out.Entities[PrimaryStore]); got != 1 {
		t.Fatalf("expected 1 primary entity, got %d", got)
	}
	obj := out.Entities[ObjectStore]
	if len(obj) != 1 {
		t.Fatalf("expected 1 object-store entity, got %d", len(obj))
	}
	if _, ok := obj[0].Properties[ids.photo]; !ok {
		t.Fatal("photo property missing from object-store bucket")
	}
	if obj[0].Key != out.Entities[PrimaryStore][0].Key {
		t.Fatal("buckets must share the entity key")
	}
	if _, ok := out.Entities[PrimaryStore][0].Properties[ids.photo]; ok {
		t.Fatal("binary value must not land in the primary bucket")
	}
}

func TestTransformValueMapperErrorIsFatal(t *testing.T) {
	catalog, _ := newTestCatalog()
	flight := personFlight()
	flight.Entities[0].Properties[1].Value = ValueFunc(func(row Row) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	tr, err := NewTransformer(flight, catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Transform([]Row{{"ssn": "1"}}); err == nil {
		t.Fatal("expected batch error from failing value mapper")
	}
}

func TestTransformConditionErrorSkipsRow(t *testing.T) {
	catalog, _ := newTestCatalog()
	flight := personFlight()
	flight.Entities[0].Condition = ConditionFunc(func(row Row) (bool, error) {
		return false, fmt.Errorf("bad condition")
	})
	log := &countingLogger{needle: "condition failed"}
	tr, err := NewTransformer(flight, catalog, log)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.Transform([]Row{{"ssn": "1", "full_name": "Ada"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected row skipped, got %d elements", out.Len())
	}
	if log.matches != 1 {
		t.Fatalf("expected 1 logged skip, got %d", log.matches)
	}
}
