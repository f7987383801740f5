package airlift

import (
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// AddressedBatch is the output of transforming one batch of rows: graph
// elements partitioned by the StorageDestination they are routed to, with
// entities and associations kept separate.
type AddressedBatch struct {
	Entities     map[StorageDestination][]Entity
	Associations map[StorageDestination][]Association
}

// NewAddressedBatch makes an empty AddressedBatch.
func NewAddressedBatch() *AddressedBatch {
	return &AddressedBatch{
		Entities:     make(map[StorageDestination][]Entity),
		Associations: make(map[StorageDestination][]Association),
	}
}

// Keys returns the distinct set of every EntityKey referenced anywhere in
// the batch: standalone entities and association endpoints alike. The
// pipeline resolves these once per batch so the same key always maps to the
// same surrogate id.
func (b *AddressedBatch) Keys() []EntityKey {
	seen := make(map[EntityKey]bool)
	for _, ents := range b.Entities {
		for _, e := range ents {
			seen[e.Key] = true
		}
	}
	for _, assocs := range b.Associations {
		for _, a := range assocs {
			seen[a.Key] = true
			seen[a.Src] = true
			seen[a.Dst] = true
		}
	}
	keys := make([]EntityKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the total number of graph elements in the batch.
func (b *AddressedBatch) Len() int {
	n := 0
	for _, ents := range b.Entities {
		n += len(ents)
	}
	for _, assocs := range b.Associations {
		n += len(assocs)
	}
	return n
}

// boundProperty is a property definition with its catalog lookups done.
type boundProperty struct {
	id          uuid.UUID
	value       ValueMapper
	destination StorageDestination
}

type boundEntity struct {
	def         *EntityDefinition
	entitySetID uuid.UUID
	key         []uuid.UUID
	props       []boundProperty
}

type boundAssociation struct {
	def         *AssociationDefinition
	entitySetID uuid.UUID
	key         []uuid.UUID
	props       []boundProperty
}

// Transformer applies one Flight to batches of rows. All catalog name
// resolution happens in NewTransformer so that configuration errors surface
// before any data moves; Transform itself is pure and safe to call from many
// goroutines at once.
type Transformer struct {
	flight *Flight
	ents   []boundEntity
	assocs []boundAssociation
	log    Logger
}

// NewTransformer binds a flight to a catalog.
func NewTransformer(flight *Flight, catalog *Catalog, log Logger) (*Transformer, error) {
	if err := flight.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NopLogger{}
	}
	t := &Transformer{flight: flight, log: log}
	for _, def := range flight.Entities {
		setID, err := catalog.EntitySetID(def.EntitySet)
		if err != nil {
			return nil, errors.Wrapf(err, "entity '%s'", def.Alias)
		}
		key, err := catalog.Key(def.EntitySet)
		if err != nil {
			return nil, errors.Wrapf(err, "entity '%s'", def.Alias)
		}
		props, err := bindProperties(def.Properties, def.Destination, catalog)
		if err != nil {
			return nil, errors.Wrapf(err, "entity '%s'", def.Alias)
		}
		t.ents = append(t.ents, boundEntity{def: def, entitySetID: setID, key: key, props: props})
	}
	for _, def := range flight.Associations {
		setID, err := catalog.EntitySetID(def.EntitySet)
		if err != nil {
			return nil, errors.Wrapf(err, "association '%s'", def.Alias)
		}
		key, err := catalog.Key(def.EntitySet)
		if err != nil {
			return nil, errors.Wrapf(err, "association '%s'", def.Alias)
		}
		props, err := bindProperties(def.Properties, nil, catalog)
		if err != nil {
			return nil, errors.Wrapf(err, "association '%s'", def.Alias)
		}
		t.assocs = append(t.assocs, boundAssociation{def: def, entitySetID: setID, key: key, props: props})
	}
	return t, nil
}

func bindProperties(defs []*PropertyDefinition, defDst *StorageDestination, catalog *Catalog) ([]boundProperty, error) {
	props := make([]boundProperty, 0, len(defs))
	for _, pd := range defs {
		pt, err := catalog.PropertyType(pd.Type)
		if err != nil {
			return nil, err
		}
		// Routing precedence: property override, then definition override,
		// then datatype default.
		dst := PrimaryStore
		if pt.Datatype == TypeBinary {
			dst = ObjectStore
		}
		if defDst != nil {
			dst = *defDst
		}
		if pd.Destination != nil {
			dst = *pd.Destination
		}
		props = append(props, boundProperty{id: pt.ID, value: pd.Value, destination: dst})
	}
	return props, nil
}

// Transform maps one ordered batch of rows to graph elements grouped by
// destination. Condition-evaluation failures skip the affected row (entity
// scope) or association; a failing value mapper is fatal for the whole
// batch.
func (t *Transformer) Transform(batch []Row) (*AddressedBatch, error) {
	out := NewAddressedBatch()
	for _, row := range batch {
		if err := t.transformRow(row, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Transformer) transformRow(row Row, out *AddressedBatch) error {
	if t.flight.Condition != nil {
		ok, err := t.flight.Condition.Eval(row)
		if err != nil {
			t.log.Printf("flight '%s': skipping row, condition failed: %v", t.flight.Name, err)
			return nil
		}
		if !ok {
			return nil
		}
	}

	aliasKeys := make(map[string]EntityKey)
	wasCreated := make(map[string]bool)

	for i := range t.ents {
		be := &t.ents[i]
		cond := true
		if be.def.Condition != nil {
			var err error
			cond, err = be.def.Condition.Eval(row)
			if err != nil {
				t.log.Printf("flight '%s': entity '%s': skipping row, condition failed: %v", t.flight.Name, be.def.Alias, err)
				wasCreated[be.def.Alias] = false
				continue
			}
		}

		properties, addressed, err := collectProperties(be.props, row)
		if err != nil {
			return errors.Wrapf(err, "flight '%s': entity '%s'", t.flight.Name, be.def.Alias)
		}

		entityID, err := t.entityID(be.def.Generator, be.key, properties, row)
		if err != nil {
			return errors.Wrapf(err, "flight '%s': entity '%s': generating id", t.flight.Name, be.def.Alias)
		}

		// An entity is materialized for this row only when its identifier is
		// non-blank, its condition held, and it collected at least one value.
		if strings.TrimSpace(entityID) != "" && cond && len(properties) > 0 {
			key := EntityKey{EntitySetID: be.entitySetID, EntityID: entityID}
			aliasKeys[be.def.Alias] = key
			for dst, props := range addressed {
				out.Entities[dst] = append(out.Entities[dst], Entity{Key: key, Properties: props})
			}
			wasCreated[be.def.Alias] = true
		} else {
			wasCreated[be.def.Alias] = false
		}
	}

	for i := range t.assocs {
		ba := &t.assocs[i]
		if ba.def.Condition != nil {
			ok, err := ba.def.Condition.Eval(row)
			if err != nil {
				t.log.Printf("flight '%s': association '%s': skipping row, condition failed: %v", t.flight.Name, ba.def.Alias, err)
				continue
			}
			if !ok {
				continue
			}
		}

		srcCreated, srcKnown := wasCreated[ba.def.SrcAlias]
		dstCreated, dstKnown := wasCreated[ba.def.DstAlias]
		if !srcKnown {
			t.log.Printf("source '%s' cannot be found to construct association '%s'", ba.def.SrcAlias, ba.def.Alias)
		}
		if !dstKnown {
			t.log.Printf("destination '%s' cannot be found to construct association '%s'", ba.def.DstAlias, ba.def.Alias)
		}
		if !srcCreated || !dstCreated {
			t.log.Debugf("skipping association '%s': endpoint not created this row", ba.def.Alias)
			continue
		}

		properties, addressed, err := collectProperties(ba.props, row)
		if err != nil {
			return errors.Wrapf(err, "flight '%s': association '%s'", t.flight.Name, ba.def.Alias)
		}

		entityID, err := t.entityID(ba.def.Generator, ba.key, properties, row)
		if err != nil {
			return errors.Wrapf(err, "flight '%s': association '%s': generating id", t.flight.Name, ba.def.Alias)
		}
		if strings.TrimSpace(entityID) == "" {
			t.log.Printf("blank entity id for association entity set '%s'", ba.def.EntitySet)
			continue
		}

		key := EntityKey{EntitySetID: ba.entitySetID, EntityID: entityID}
		src := aliasKeys[ba.def.SrcAlias]
		dst := aliasKeys[ba.def.DstAlias]
		if len(addressed) == 0 {
			// Association with no properties still records the edge itself in
			// the primary store.
			addressed = map[StorageDestination]Properties{PrimaryStore: make(Properties)}
		}
		for dest, props := range addressed {
			out.Associations[dest] = append(out.Associations[dest], Association{Key: key, Src: src, Dst: dst, Properties: props})
		}
	}
	return nil
}

func (t *Transformer) entityID(gen ValueMapper, key []uuid.UUID, properties Properties, row Row) (string, error) {
	if gen != nil {
		v, err := gen.Apply(row)
		if err != nil {
			return "", err
		}
		return canonical(v), nil
	}
	return DefaultEntityID(key, properties), nil
}

// collectProperties evaluates every property rule for a row, dropping nil
// and blank-string values, expanding collections, and unioning into both the
// flat property map (for id derivation) and the per-destination map (for
// writes).
func collectProperties(props []boundProperty, row Row) (Properties, map[StorageDestination]Properties, error) {
	properties := make(Properties)
	addressed := make(map[StorageDestination]Properties)
	for _, bp := range props {
		v, err := bp.value.Apply(row)
		if err != nil {
			return nil, nil, errors.Wrap(err, "applying value mapper")
		}
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		vals := expand(v)
		if len(vals) == 0 {
			continue
		}
		properties.Add(bp.id, vals...)
		dp, ok := addressed[bp.destination]
		if !ok {
			dp = make(Properties)
			addressed[bp.destination] = dp
		}
		dp.Add(bp.id, vals...)
	}
	return properties, addressed, nil
}

// expand coerces a mapped value to a collection: scalars become one-element
// collections, slices and arrays expand to their members. Byte slices are
// one binary value, not a collection of bytes.
func expand(v interface{}) []interface{} {
	if bs, ok := v.([]byte); ok {
		return []interface{}{bs}
	}
	if vs, ok := v.([]interface{}); ok {
		return vs
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, rv.Index(i).Interface())
		}
		return out
	}
	return []interface{}{v}
}
