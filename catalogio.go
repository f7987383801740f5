package airlift

import (
	"io/ioutil"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// catalogSpec is the YAML shape of a catalog snapshot.
type catalogSpec struct {
	PropertyTypes []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Datatype string `yaml:"datatype"`
	} `yaml:"propertyTypes"`
	EntityTypes []struct {
		ID   string   `yaml:"id"`
		Name string   `yaml:"name"`
		Key  []string `yaml:"key"`
	} `yaml:"entityTypes"`
	EntitySets []struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		EntityType  string   `yaml:"entityType"`
		Description string   `yaml:"description"`
		Contacts    []string `yaml:"contacts"`
	} `yaml:"entitySets"`
}

// LoadCatalog reads a YAML catalog snapshot from a file. Key entries on an
// entity type may be property type ids or names; names are looked up among
// the declared property types.
func LoadCatalog(path string) (*Catalog, error) {
	bs, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading catalog '%s'", path)
	}
	return ParseCatalog(bs)
}

// ParseCatalog parses a YAML catalog snapshot.
func ParseCatalog(bs []byte) (*Catalog, error) {
	spec := catalogSpec{}
	if err := yaml.Unmarshal(bs, &spec); err != nil {
		return nil, errors.Wrap(err, "unmarshaling catalog yaml")
	}

	props := make([]PropertyType, 0, len(spec.PropertyTypes))
	propIDs := make(map[string]uuid.UUID)
	for _, ps := range spec.PropertyTypes {
		id, err := uuid.Parse(ps.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "property type '%s'", ps.Name)
		}
		props = append(props, PropertyType{ID: id, Name: ps.Name, Datatype: Datatype(ps.Datatype)})
		propIDs[ps.Name] = id
	}

	types := make([]EntityType, 0, len(spec.EntityTypes))
	typeIDs := make(map[string]uuid.UUID)
	for _, ts := range spec.EntityTypes {
		id, err := uuid.Parse(ts.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "entity type '%s'", ts.Name)
		}
		key := make([]uuid.UUID, 0, len(ts.Key))
		for _, k := range ts.Key {
			kid, err := uuid.Parse(k)
			if err != nil {
				named, ok := propIDs[k]
				if !ok {
					return nil, errors.Errorf("entity type '%s': key '%s' is neither a uuid nor a declared property type", ts.Name, k)
				}
				kid = named
			}
			key = append(key, kid)
		}
		types = append(types, EntityType{ID: id, Name: ts.Name, Key: key})
		typeIDs[ts.Name] = id
	}

	sets := make([]EntitySet, 0, len(spec.EntitySets))
	for _, ss := range spec.EntitySets {
		id, err := uuid.Parse(ss.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "entity set '%s'", ss.Name)
		}
		tid, err := uuid.Parse(ss.EntityType)
		if err != nil {
			named, ok := typeIDs[ss.EntityType]
			if !ok {
				return nil, errors.Errorf("entity set '%s': entity type '%s' is neither a uuid nor a declared entity type", ss.Name, ss.EntityType)
			}
			tid = named
		}
		sets = append(sets, EntitySet{
			ID:           id,
			Name:         ss.Name,
			EntityTypeID: tid,
			Description:  ss.Description,
			Contacts:     ss.Contacts,
		})
	}
	return NewCatalog(sets, types, props), nil
}
