package airlift

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Row is one source record being processed: a mapping of column name to raw
// value. Rows are produced by a Source and consumed once by Transform.
type Row map[string]interface{}

// Datatype is the declared type of a property. The only distinction the
// engine itself cares about is binary vs everything else, which drives
// default storage routing.
type Datatype string

// Datatypes understood by the property catalog.
const (
	TypeString   Datatype = "string"
	TypeInteger  Datatype = "integer"
	TypeDouble   Datatype = "double"
	TypeBoolean  Datatype = "boolean"
	TypeDateTime Datatype = "datetime"
	TypeBinary   Datatype = "binary"
)

// StorageDestination is a named backend target that property and entity data
// is routed to. Routing precedence: explicit per-property override, then
// datatype default (binary → ObjectStore, else PrimaryStore).
type StorageDestination int

const (
	// PrimaryStore is the relational graph store every integration writes to.
	PrimaryStore StorageDestination = iota
	// ObjectStore holds binary-typed property values.
	ObjectStore
)

// Destinations lists every defined StorageDestination.
var Destinations = []StorageDestination{PrimaryStore, ObjectStore}

func (s StorageDestination) String() string {
	switch s {
	case PrimaryStore:
		return "primary"
	case ObjectStore:
		return "object"
	}
	return "unknown"
}

// ParseStorageDestination parses the string form used in flight documents.
func ParseStorageDestination(s string) (StorageDestination, error) {
	switch s {
	case "primary":
		return PrimaryStore, nil
	case "object":
		return ObjectStore, nil
	}
	return 0, errors.Errorf("unknown storage destination '%s'", s)
}

// UpdateType is the per-entity-set write policy a Destination applies.
type UpdateType string

const (
	// UpdateMerge upserts, merging property values into existing entities.
	UpdateMerge UpdateType = "merge"
	// UpdateInsertOnly never touches rows that already exist.
	UpdateInsertOnly UpdateType = "insertOnly"
)

// PropertyType is the schema definition of one typed attribute in the target
// graph. Property types live in an external metadata catalog; airlift only
// reads them.
type PropertyType struct {
	ID       uuid.UUID
	Name     string
	Datatype Datatype
}

// EntityType defines the shape of an entity, most importantly Key: the
// stable, ordered list of primary-key property type ids used for default
// entity id generation.
type EntityType struct {
	ID   uuid.UUID
	Name string
	Key  []uuid.UUID
}

// EntitySet is a named, typed collection of entities in the target store.
type EntitySet struct {
	ID           uuid.UUID
	Name         string
	EntityTypeID uuid.UUID
	Description  string
	Contacts     []string
}

// Catalog is a snapshot of the metadata needed to execute flights: entity
// sets by name, entity types and property types by id and name. It is built
// once before a run and never mutated during one - there is no implicit
// process-wide cache.
type Catalog struct {
	EntitySets        map[string]EntitySet
	EntityTypes       map[uuid.UUID]EntityType
	PropertyTypes     map[string]PropertyType
	PropertyTypesByID map[uuid.UUID]PropertyType
}

// NewCatalog builds a Catalog from its constituent definitions.
func NewCatalog(sets []EntitySet, types []EntityType, props []PropertyType) *Catalog {
	c := &Catalog{
		EntitySets:        make(map[string]EntitySet),
		EntityTypes:       make(map[uuid.UUID]EntityType),
		PropertyTypes:     make(map[string]PropertyType),
		PropertyTypesByID: make(map[uuid.UUID]PropertyType),
	}
	for _, es := range sets {
		c.EntitySets[es.Name] = es
	}
	for _, et := range types {
		c.EntityTypes[et.ID] = et
	}
	for _, pt := range props {
		c.PropertyTypes[pt.Name] = pt
		c.PropertyTypesByID[pt.ID] = pt
	}
	return c
}

// EntitySetID returns the id of the named entity set.
func (c *Catalog) EntitySetID(name string) (uuid.UUID, error) {
	es, ok := c.EntitySets[name]
	if !ok {
		return uuid.Nil, errors.Errorf("unknown entity set '%s'", name)
	}
	return es.ID, nil
}

// Key returns the ordered primary key property ids for the named entity set.
func (c *Catalog) Key(entitySetName string) ([]uuid.UUID, error) {
	es, ok := c.EntitySets[entitySetName]
	if !ok {
		return nil, errors.Errorf("unknown entity set '%s'", entitySetName)
	}
	et, ok := c.EntityTypes[es.EntityTypeID]
	if !ok {
		return nil, errors.Errorf("entity set '%s' has unknown entity type %s", entitySetName, es.EntityTypeID)
	}
	return et.Key, nil
}

// PropertyType looks a property type up by name.
func (c *Catalog) PropertyType(name string) (PropertyType, error) {
	pt, ok := c.PropertyTypes[name]
	if !ok {
		return PropertyType{}, errors.Errorf("unknown property type '%s'", name)
	}
	return pt, nil
}

// EntityKey is the natural identity of one graph node: the entity set it
// belongs to plus a string identifier. The same natural key always yields
// the same EntityKey - the idempotency invariant the pipeline depends on.
// An EntityKey is never produced from a blank identifier.
type EntityKey struct {
	EntitySetID uuid.UUID `json:"entitySetId"`
	EntityID    string    `json:"entityId"`
}

// ValueSet is a deduplicating set of property values. Repeated identical
// values from multiple extractors collapse to one member.
type ValueSet map[string]interface{}

// NewValueSet makes a ValueSet from the given values.
func NewValueSet(vals ...interface{}) ValueSet {
	vs := make(ValueSet)
	for _, v := range vals {
		vs.Add(v)
	}
	return vs
}

// Add inserts a value, deduplicating on its canonical string form.
func (vs ValueSet) Add(v interface{}) {
	vs[canonical(v)] = v
}

// Values returns the members in unspecified order.
func (vs ValueSet) Values() []interface{} {
	out := make([]interface{}, 0, len(vs))
	for _, v := range vs {
		out = append(out, v)
	}
	return out
}

// SortedStrings returns the canonical string forms of the members in sorted
// order. Entity id derivation depends on this being deterministic.
func (vs ValueSet) SortedStrings() []string {
	out := make([]string, 0, len(vs))
	for s := range vs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Properties maps property type id → collected value set.
type Properties map[uuid.UUID]ValueSet

// Add unions vals into the set for the given property.
func (p Properties) Add(propertyID uuid.UUID, vals ...interface{}) {
	vs, ok := p[propertyID]
	if !ok {
		vs = make(ValueSet)
		p[propertyID] = vs
	}
	for _, v := range vals {
		vs.Add(v)
	}
}

// Entity is a write-ready graph node: a key plus the property subset routed
// to one destination.
type Entity struct {
	Key        EntityKey
	Properties Properties
}

// Association is a write-ready graph edge between two entities created from
// the same row.
type Association struct {
	Key        EntityKey
	Src        EntityKey
	Dst        EntityKey
	Properties Properties
}
