package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Cardinality is the declared relation kind in a Definition.
type Cardinality string

const (
	CardinalityOne  Cardinality = "hasOne"
	CardinalityMany Cardinality = "hasMany"
)

// RelationDef is the declarative form of one relation.
//
// ForeignKey is the field holding the related id: on the parent record for
// hasOne (defaults to "<relation>Id"), on the related records for hasMany
// (required).
type RelationDef struct {
	ResourceType string      `json:"resourceType" yaml:"resourceType"`
	RelationType Cardinality `json:"relationType" yaml:"relationType"`
	ForeignKey   string      `json:"foreignKey,omitempty" yaml:"foreignKey,omitempty"`
}

// Definition maps resource type to relation name to relation.
type Definition map[string]map[string]RelationDef

// Relation is a resolved relation edge. Only HasOne and HasMany implement it.
type Relation interface {
	relation() // Sealed - only these types implement it

	// Target is the related resource type.
	Target() string
}

// HasOne relates a record to a single record of Target whose id is stored
// in the parent's ForeignKey field.
type HasOne struct {
	Name       string
	TargetType string
	ForeignKey string
}

func (HasOne) relation() {}

// Target implements Relation.
func (r HasOne) Target() string { return r.TargetType }

// HasMany relates a record to every record of Target whose ForeignKey field
// equals the parent's id.
type HasMany struct {
	Name       string
	TargetType string
	ForeignKey string
}

func (HasMany) relation() {}

// Target implements Relation.
func (r HasMany) Target() string { return r.TargetType }

// Schema is the immutable, validated registry.
type Schema struct {
	types map[string]map[string]Relation
	names []string
}

// New validates def and resolves it into a Schema.
// All validation failures are reported together (errors.Join of
// ValidationError values).
func New(def Definition) (*Schema, error) {
	if errs := Validate(def); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, errors.Join(joined...)
	}

	s := &Schema{
		types: make(map[string]map[string]Relation, len(def)),
		names: make([]string, 0, len(def)),
	}
	for typeName, rels := range def {
		s.names = append(s.names, typeName)
		resolved := make(map[string]Relation, len(rels))
		for relName, rd := range rels {
			switch rd.RelationType {
			case CardinalityOne:
				fk := rd.ForeignKey
				if fk == "" {
					fk = relName + "Id"
				}
				resolved[relName] = HasOne{Name: relName, TargetType: rd.ResourceType, ForeignKey: fk}
			case CardinalityMany:
				resolved[relName] = HasMany{Name: relName, TargetType: rd.ResourceType, ForeignKey: rd.ForeignKey}
			}
		}
		s.types[typeName] = resolved
	}
	slices.Sort(s.names)
	return s, nil
}

// MustNew is like New but panics on error.
// Use only in tests or for static schemas.
func MustNew(def Definition) *Schema {
	s, err := New(def)
	if err != nil {
		panic(err)
	}
	return s
}

// Has reports whether resourceType is declared.
func (s *Schema) Has(resourceType string) bool {
	_, ok := s.types[resourceType]
	return ok
}

// Types returns the declared resource types in sorted order.
func (s *Schema) Types() []string {
	return slices.Clone(s.names)
}

// Relation looks up a relation of resourceType by name.
func (s *Schema) Relation(resourceType, name string) (Relation, bool) {
	rel, ok := s.types[resourceType][name]
	return rel, ok
}

// RelationNames returns the relation names of resourceType in sorted order.
func (s *Schema) RelationNames(resourceType string) []string {
	rels := s.types[resourceType]
	names := make([]string, 0, len(rels))
	for name := range rels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definition renders the schema back to its declarative form, with
// defaulted foreign keys filled in.
func (s *Schema) Definition() Definition {
	def := make(Definition, len(s.types))
	for typeName, rels := range s.types {
		out := make(map[string]RelationDef, len(rels))
		for name, rel := range rels {
			switch r := rel.(type) {
			case HasOne:
				out[name] = RelationDef{ResourceType: r.TargetType, RelationType: CardinalityOne, ForeignKey: r.ForeignKey}
			case HasMany:
				out[name] = RelationDef{ResourceType: r.TargetType, RelationType: CardinalityMany, ForeignKey: r.ForeignKey}
			}
		}
		def[typeName] = out
	}
	return def
}

// String summarizes the schema, one type per line.
func (s *Schema) String() string {
	var b strings.Builder
	for _, typeName := range s.names {
		b.WriteString(typeName)
		for _, relName := range s.RelationNames(typeName) {
			switch r := s.types[typeName][relName].(type) {
			case HasOne:
				fmt.Fprintf(&b, " %s:hasOne(%s.%s)", relName, r.TargetType, r.ForeignKey)
			case HasMany:
				fmt.Fprintf(&b, " %s:hasMany(%s.%s)", relName, r.TargetType, r.ForeignKey)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
