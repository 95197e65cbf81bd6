package resource

import (
	"fmt"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/schema"
)

// Normalized is an UPDATE_SUCCEEDED payload split into per-type records.
type Normalized struct {
	// Records holds relation-free records per resource type, in payload
	// order.
	Records map[string][]ir.Object

	// IDs are the top-level entity ids in payload order.
	IDs []string

	// IsList is true when the payload was a sequence.
	IsList bool

	// Included is the inclusion spec inferred from embedded relations.
	Included ir.Included
}

// Normalize splits payload (an object, a list of objects or null) of
// resourceType into flat records.
//
// Relation keys never reach the stored records:
//   - an embedded hasOne object is extracted and, when the parent lacks the
//     foreign key, the child's id is written to it. A foreign key named
//     like its relation always takes the child's id;
//   - a scalar hasOne value is taken as the foreign key;
//   - embedded hasMany objects are extracted and receive the parent's id
//     as their foreign key when they lack one. Scalar members are ignored.
//
// Every relation present in the payload (including bare ids, null and
// empty lists) appears in the inferred inclusion spec.
func Normalize(s *schema.Schema, resourceType string, payload ir.Value) (*Normalized, error) {
	if !s.Has(resourceType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}

	n := &Normalized{
		Records:  make(map[string][]ir.Object),
		IDs:      []string{},
		Included: ir.Included{},
	}

	switch p := payload.(type) {
	case nil, ir.Null:
	case ir.Object:
		id, _, inc, err := n.entity(s, resourceType, p)
		if err != nil {
			return nil, err
		}
		n.IDs = append(n.IDs, id)
		n.Included = n.Included.Merge(inc)
	case ir.Array:
		n.IsList = true
		for i, elem := range p {
			obj, ok := elem.(ir.Object)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] is %T, want object", ErrInvalidPayload, resourceType, i, elem)
			}
			id, _, inc, err := n.entity(s, resourceType, obj)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", resourceType, i, err)
			}
			n.IDs = append(n.IDs, id)
			n.Included = n.Included.Merge(inc)
		}
	default:
		return nil, fmt.Errorf("%w: %s payload is %T", ErrInvalidPayload, resourceType, payload)
	}

	return n, nil
}

func (n *Normalized) entity(s *schema.Schema, resourceType string, obj ir.Object) (string, ir.Value, ir.Included, error) {
	idVal := obj["id"]
	id, ok := ir.IDString(idVal)
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: %s record", ErrMissingEntityID, resourceType)
	}

	record := make(ir.Object, len(obj))
	for k, v := range obj {
		if _, isRel := s.Relation(resourceType, k); !isRel {
			record[k] = v
		}
	}
	// Appended before children so self-referencing types keep parent-first
	// table order. record is filled in below.
	n.Records[resourceType] = append(n.Records[resourceType], record)

	inc := ir.Included{}
	for _, name := range s.RelationNames(resourceType) {
		v, present := obj[name]
		if !present {
			continue
		}
		rel, _ := s.Relation(resourceType, name)

		switch r := rel.(type) {
		case schema.HasOne:
			switch child := v.(type) {
			case ir.Null:
				inc = includeRelation(inc, name, nil)
			case ir.Object:
				_, childID, sub, err := n.entity(s, r.TargetType, child)
				if err != nil {
					return "", nil, nil, fmt.Errorf("%s.%s: %w", resourceType, name, err)
				}
				if _, has := record[r.ForeignKey]; !has {
					record[r.ForeignKey] = childID
				}
				inc = includeRelation(inc, name, sub)
			case ir.String, ir.Int, ir.Float:
				if _, has := record[r.ForeignKey]; !has {
					record[r.ForeignKey] = child
				}
				inc = includeRelation(inc, name, nil)
			default:
				return "", nil, nil, fmt.Errorf("%w: %s.%s is %T", ErrInvalidPayload, resourceType, name, v)
			}

		case schema.HasMany:
			var members ir.Array
			switch child := v.(type) {
			case ir.Null:
				inc = includeRelation(inc, name, nil)
				continue
			case ir.Array:
				members = child
			case ir.Object:
				members = ir.Array{child}
			default:
				return "", nil, nil, fmt.Errorf("%w: %s.%s is %T", ErrInvalidPayload, resourceType, name, v)
			}

			var sub ir.Included
			for i, m := range members {
				childObj, ok := m.(ir.Object)
				if !ok {
					continue
				}
				if _, has := childObj[r.ForeignKey]; !has {
					childObj = childObj.Clone()
					childObj[r.ForeignKey] = idVal
				}
				_, _, childInc, err := n.entity(s, r.TargetType, childObj)
				if err != nil {
					return "", nil, nil, fmt.Errorf("%s.%s[%d]: %w", resourceType, name, i, err)
				}
				sub = sub.Merge(childInc)
			}
			inc = includeRelation(inc, name, sub)
		}
	}

	return id, idVal, inc, nil
}

// includeRelation records name in inc, folding sub into any spec already
// inferred for it by a sibling.
func includeRelation(inc ir.Included, name string, sub ir.Included) ir.Included {
	if len(sub) == 0 {
		sub = nil
	}
	if existing, ok := inc[name]; ok {
		sub = existing.Merge(sub)
		if len(sub) == 0 {
			sub = nil
		}
	}
	inc[name] = sub
	return inc
}
