package airlift

import (
	"io/ioutil"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Flight is a declarative, ordered description of how one row yields zero or
// more entities and associations. A flight is authored once (typically in
// YAML) and is immutable during execution.
type Flight struct {
	Name         string
	Tags         []string
	Condition    Condition // optional row-level gate; nil means always
	Entities     []*EntityDefinition
	Associations []*AssociationDefinition
}

// EntityDefinition describes one kind of node to extract per row.
type EntityDefinition struct {
	Alias       string
	EntitySet   string
	Condition   Condition   // optional; nil means always
	Properties  []*PropertyDefinition
	Generator   ValueMapper // optional custom identifier function
	Destination *StorageDestination
	UpdateType  UpdateType
}

// AssociationDefinition describes one kind of edge to extract per row. Both
// SrcAlias and DstAlias must name entity definitions in the same flight.
type AssociationDefinition struct {
	Alias      string
	EntitySet  string
	SrcAlias   string
	DstAlias   string
	Condition  Condition
	Properties []*PropertyDefinition
	Generator  ValueMapper
	UpdateType UpdateType
}

// PropertyDefinition is one property's value-derivation rule.
type PropertyDefinition struct {
	Type        string // property type name in the catalog
	Value       ValueMapper
	Destination *StorageDestination // optional routing override
}

// Validate checks the structural invariants of a flight: non-blank name,
// unique aliases, association endpoints referring to declared entity
// aliases, and every definition having an entity set and at least one
// property rule.
func (f *Flight) Validate() error {
	if f.Name == "" {
		return errors.New("flight must have a name")
	}
	aliases := make(map[string]bool)
	entityAliases := make(map[string]bool)
	for _, e := range f.Entities {
		if e.Alias == "" || e.EntitySet == "" {
			return errors.Errorf("flight '%s': entity definitions need alias and entitySet", f.Name)
		}
		if aliases[e.Alias] {
			return errors.Errorf("flight '%s': duplicate alias '%s'", f.Name, e.Alias)
		}
		aliases[e.Alias] = true
		entityAliases[e.Alias] = true
		if len(e.Properties) == 0 {
			return errors.Errorf("flight '%s': entity '%s' has no properties", f.Name, e.Alias)
		}
	}
	for _, a := range f.Associations {
		if a.Alias == "" || a.EntitySet == "" {
			return errors.Errorf("flight '%s': association definitions need alias and entitySet", f.Name)
		}
		if aliases[a.Alias] {
			return errors.Errorf("flight '%s': duplicate alias '%s'", f.Name, a.Alias)
		}
		aliases[a.Alias] = true
		// Endpoints must be entities; an association can never be an endpoint.
		if !entityAliases[a.SrcAlias] || !entityAliases[a.DstAlias] {
			return errors.Errorf("flight '%s': association '%s' endpoints must name entity aliases", f.Name, a.Alias)
		}
	}
	return nil
}

// UpdateTypes collects the per-entity-set update policy declared by the
// flight's definitions, keyed by entity set id via the catalog.
func (f *Flight) UpdateTypes(catalog *Catalog) (map[uuid.UUID]UpdateType, error) {
	out := make(map[uuid.UUID]UpdateType)
	add := func(entitySet string, ut UpdateType) error {
		id, err := catalog.EntitySetID(entitySet)
		if err != nil {
			return err
		}
		if ut == "" {
			ut = UpdateMerge
		}
		out[id] = ut
		return nil
	}
	for _, e := range f.Entities {
		if err := add(e.EntitySet, e.UpdateType); err != nil {
			return nil, err
		}
	}
	for _, a := range f.Associations {
		if err := add(a.EntitySet, a.UpdateType); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LoadFlight reads and parses a YAML flight document from a file.
func LoadFlight(path string) (*Flight, error) {
	bs, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading flight '%s'", path)
	}
	return ParseFlight(bs)
}

// ParseFlight parses a YAML flight document and validates it.
func ParseFlight(bs []byte) (*Flight, error) {
	f := &Flight{}
	if err := yaml.Unmarshal(bs, f); err != nil {
		return nil, errors.Wrap(err, "unmarshaling flight yaml")
	}
	if err := f.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating flight")
	}
	return f, nil
}

// Intermediate YAML shapes. Value mappers and conditions are polymorphic, so
// each definition unmarshals into a spec struct first and is then compiled
// into the executable form.

type flightSpec struct {
	Name         string            `yaml:"name"`
	Tags         []string          `yaml:"tags"`
	Conditions   []conditionSpec   `yaml:"conditions"`
	Entities     []entitySpec      `yaml:"entities"`
	Associations []associationSpec `yaml:"associations"`
}

type entitySpec struct {
	Alias       string          `yaml:"alias"`
	EntitySet   string          `yaml:"entitySet"`
	Conditions  []conditionSpec `yaml:"conditions"`
	Properties  []propertySpec  `yaml:"properties"`
	Generator   *generatorSpec  `yaml:"generator"`
	Destination string          `yaml:"destination"`
	Update      string          `yaml:"update"`
}

type associationSpec struct {
	Alias      string          `yaml:"alias"`
	EntitySet  string          `yaml:"entitySet"`
	Src        string          `yaml:"src"`
	Dst        string          `yaml:"dst"`
	Conditions []conditionSpec `yaml:"conditions"`
	Properties []propertySpec  `yaml:"properties"`
	Generator  *generatorSpec  `yaml:"generator"`
	Update     string          `yaml:"update"`
}

type propertySpec struct {
	Type        string          `yaml:"type"`
	Column      string          `yaml:"column"`
	Value       interface{}     `yaml:"value"`
	Destination string          `yaml:"destination"`
	Transforms  []transformSpec `yaml:"transforms"`
}

type generatorSpec struct {
	Column    string   `yaml:"column"`
	Columns   []string `yaml:"columns"`
	Separator string   `yaml:"separator"`
}

type conditionSpec struct {
	Column     string `yaml:"column"`
	Contains   string `yaml:"contains"`
	IgnoreCase bool   `yaml:"ignoreCase"`
	Reverse    bool   `yaml:"reverse"`
}

type transformSpec struct {
	Type       string   `yaml:"type"`
	Separator  string   `yaml:"separator"`
	Index      string   `yaml:"index"`
	ValueElse  string   `yaml:"valueElse"`
	IfMoreThan *int     `yaml:"ifMoreThan"`
	Pattern    string   `yaml:"pattern"`
	Patterns   []string `yaml:"patterns"`
	Length     int      `yaml:"length"`
	Pre        bool     `yaml:"pre"`
	Cutoff     bool     `yaml:"cutoff"`
	Prefix     string   `yaml:"prefix"`
	Location   int      `yaml:"location"`
	Timezone   string   `yaml:"timezone"`
}

// UnmarshalYAML implements yaml.Unmarshaler for Flight.
func (f *Flight) UnmarshalYAML(unmarshal func(interface{}) error) error {
	spec := flightSpec{}
	if err := unmarshal(&spec); err != nil {
		return err
	}
	f.Name = spec.Name
	f.Tags = spec.Tags
	f.Condition = compileConditions(spec.Conditions)
	for _, es := range spec.Entities {
		def, err := es.compile()
		if err != nil {
			return err
		}
		f.Entities = append(f.Entities, def)
	}
	for _, as := range spec.Associations {
		def, err := as.compile()
		if err != nil {
			return err
		}
		f.Associations = append(f.Associations, def)
	}
	return nil
}

func (es entitySpec) compile() (*EntityDefinition, error) {
	def := &EntityDefinition{
		Alias:      es.Alias,
		EntitySet:  es.EntitySet,
		Condition:  compileConditions(es.Conditions),
		Generator:  es.Generator.compile(),
		UpdateType: UpdateType(es.Update),
	}
	if es.Destination != "" {
		dst, err := ParseStorageDestination(es.Destination)
		if err != nil {
			return nil, errors.Wrapf(err, "entity '%s'", es.Alias)
		}
		def.Destination = &dst
	}
	for _, ps := range es.Properties {
		pd, err := ps.compile()
		if err != nil {
			return nil, errors.Wrapf(err, "entity '%s'", es.Alias)
		}
		def.Properties = append(def.Properties, pd)
	}
	return def, nil
}

func (as associationSpec) compile() (*AssociationDefinition, error) {
	def := &AssociationDefinition{
		Alias:      as.Alias,
		EntitySet:  as.EntitySet,
		SrcAlias:   as.Src,
		DstAlias:   as.Dst,
		Condition:  compileConditions(as.Conditions),
		Generator:  as.Generator.compile(),
		UpdateType: UpdateType(as.Update),
	}
	for _, ps := range as.Properties {
		pd, err := ps.compile()
		if err != nil {
			return nil, errors.Wrapf(err, "association '%s'", as.Alias)
		}
		def.Properties = append(def.Properties, pd)
	}
	return def, nil
}

func (ps propertySpec) compile() (*PropertyDefinition, error) {
	if ps.Type == "" {
		return nil, errors.New("property definitions need a type")
	}
	pd := &PropertyDefinition{Type: ps.Type}
	var src ValueMapper
	switch {
	case ps.Column != "":
		src = ColumnValue{Column: ps.Column}
	case ps.Value != nil:
		src = ConstantValue{Value: ps.Value}
	default:
		return nil, errors.Errorf("property '%s' needs a column or a value", ps.Type)
	}
	if len(ps.Transforms) > 0 {
		chain := ChainValue{Source: src}
		for _, ts := range ps.Transforms {
			t, err := ts.compile()
			if err != nil {
				return nil, errors.Wrapf(err, "property '%s'", ps.Type)
			}
			chain.Transforms = append(chain.Transforms, t)
		}
		src = chain
	}
	pd.Value = src
	if ps.Destination != "" {
		dst, err := ParseStorageDestination(ps.Destination)
		if err != nil {
			return nil, errors.Wrapf(err, "property '%s'", ps.Type)
		}
		pd.Destination = &dst
	}
	return pd, nil
}

func (ts transformSpec) compile() (Transform, error) {
	switch ts.Type {
	case "split":
		return SplitTransform{Separator: ts.Separator, Index: ts.Index, ValueElse: ts.ValueElse, IfMoreThan: ts.IfMoreThan}, nil
	case "pad":
		return PaddingTransform{Pattern: ts.Pattern, Length: ts.Length, Pre: ts.Pre, Cutoff: ts.Cutoff}, nil
	case "parseBool":
		return ParseBoolTransform{}, nil
	case "prefixSubstring":
		return PrefixSubstringTransform{Prefix: ts.Prefix, Location: ts.Location}, nil
	case "datetime":
		patterns := ts.Patterns
		if len(patterns) == 0 && ts.Pattern != "" {
			patterns = []string{ts.Pattern}
		}
		return DateTimeTransform{Patterns: patterns, Timezone: ts.Timezone}, nil
	}
	return nil, errors.Errorf("unknown transform type '%s'", ts.Type)
}

func (gs *generatorSpec) compile() ValueMapper {
	if gs == nil {
		return nil
	}
	sep := gs.Separator
	if sep == "" {
		sep = "|"
	}
	cols := gs.Columns
	if len(cols) == 0 && gs.Column != "" {
		cols = []string{gs.Column}
	}
	return ConcatValue{Columns: cols, Separator: sep}
}

func compileConditions(specs []conditionSpec) Condition {
	if len(specs) == 0 {
		return nil
	}
	all := make(AllConditions, 0, len(specs))
	for _, cs := range specs {
		var c Condition
		if cs.Contains != "" {
			c = ContainsCondition{Column: cs.Column, Value: cs.Contains, IgnoreCase: cs.IgnoreCase}
			if cs.Reverse {
				c = NotCondition{Inner: c}
			}
		} else {
			c = NotBlankCondition{Column: cs.Column, Reverse: cs.Reverse}
		}
		all = append(all, c)
	}
	if len(all) == 1 {
		return all[0]
	}
	return all
}
