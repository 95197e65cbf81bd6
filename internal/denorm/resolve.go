package denorm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resource"
	"github.com/roach88/restcache/internal/schema"
)

// ErrUnknownRelation is returned when an inclusion spec names a relation
// the schema does not declare.
var ErrUnknownRelation = errors.New("unknown relation")

// IDs selects what to resolve: a single id, an ordered list, or nothing.
type IDs struct {
	many   bool
	single bool
	ids    []string
}

// None selects nothing; Resolve returns nil.
var None = IDs{}

// One selects a single entity; Resolve returns a *Node or nil.
func One(id string) IDs {
	return IDs{single: true, ids: []string{id}}
}

// Many selects an ordered list; Resolve returns a *List.
func Many(ids ...string) IDs {
	return IDs{many: true, ids: ids}
}

// Resolve denormalizes ids of resourceType from st, embedding the
// relations named by included.
//
// A single id that is not stored yields nil; missing ids are skipped in
// lists, which keep the requested order otherwise.
func Resolve(c *Cache, s *schema.Schema, st *resource.State, resourceType string, ids IDs, included ir.Included) (Result, error) {
	if _, ok := st.Resource(resourceType); !ok {
		return nil, fmt.Errorf("%w: %q", resource.ErrUnknownResourceType, resourceType)
	}
	if err := validateIncluded(s, resourceType, included, ""); err != nil {
		return nil, err
	}

	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	c.begin()
	defer c.commit()

	r := &resolver{cache: c, schema: s, state: st}
	switch {
	case ids.single:
		n := r.node(resourceType, ids.ids[0], "", included)
		if n == nil {
			return nil, nil
		}
		return n, nil
	case ids.many:
		items := make([]*Node, 0, len(ids.ids))
		for _, id := range ids.ids {
			if n := r.node(resourceType, id, "", included); n != nil {
				items = append(items, n)
			}
		}
		key := listKey{Type: resourceType, Spec: specKey(included), Sel: strings.Join(ids.ids, "\x00")}
		return c.list(key, items), nil
	default:
		return nil, nil
	}
}

// GetRequestResources resolves the entities of a tracked request.
//
// The request's own inferred inclusion spec is used unless override is
// non-nil (an empty, non-nil override embeds nothing). A request that was
// never dispatched yields nil.
func GetRequestResources(c *Cache, s *schema.Schema, st *resource.State, resourceType, requestKey string, override ir.Included) (Result, error) {
	req, err := resource.GetRequest(st, resourceType, requestKey)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, nil
	}

	included := req.Included
	if override != nil {
		included = override
	}

	ids := None
	switch {
	case req.IsList:
		ids = Many(req.IDs...)
	case len(req.IDs) > 0:
		ids = One(req.IDs[0])
	}
	return Resolve(c, s, st, resourceType, ids, included)
}

func validateIncluded(s *schema.Schema, resourceType string, included ir.Included, path string) error {
	for _, name := range included.Names() {
		rel, ok := s.Relation(resourceType, name)
		if !ok {
			return fmt.Errorf("%w: %s has no relation %q (at %q)", ErrUnknownRelation, resourceType, name, joinPath(path, name))
		}
		if err := validateIncluded(s, rel.Target(), included[name], joinPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

type resolver struct {
	cache  *Cache
	schema *schema.Schema
	state  *resource.State
}

func (r *resolver) node(resourceType, id, path string, included ir.Included) *Node {
	rs, _ := r.state.Resource(resourceType)
	entity, ok := rs.Table().Get(id)
	if !ok {
		return nil
	}

	relations := make(map[string]Result, len(included))
	for _, name := range included.Names() {
		rel, _ := r.schema.Relation(resourceType, name)
		childPath := joinPath(path, name)

		switch rel := rel.(type) {
		case schema.HasOne:
			relations[name] = nil
			fk, ok := entity.Get(rel.ForeignKey)
			if !ok {
				continue
			}
			childID, ok := ir.IDString(fk)
			if !ok {
				continue
			}
			if child := r.node(rel.TargetType, childID, childPath, included[name]); child != nil {
				relations[name] = child
			}

		case schema.HasMany:
			target, _ := r.state.Resource(rel.TargetType)
			items := []*Node{}
			for candidate := range target.Table().All() {
				fk, ok := candidate.Get(rel.ForeignKey)
				if !ok {
					continue
				}
				if ref, ok := ir.IDString(fk); !ok || ref != id {
					continue
				}
				if child := r.node(rel.TargetType, candidate.ID(), childPath, included[name]); child != nil {
					items = append(items, child)
				}
			}
			relations[name] = r.cache.list(listKey{Type: resourceType, Owner: id, Path: childPath, Spec: specKey(included[name])}, items)
		}
	}

	return r.cache.node(nodeKey{Type: resourceType, ID: id, Path: path, Spec: specKey(included)}, &Node{
		Type:      resourceType,
		Entity:    entity,
		Relations: relations,
	})
}
