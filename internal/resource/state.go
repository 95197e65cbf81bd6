package resource

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/schema"
)

// ResourceState is the slice of state owned by one resource type: its
// entity table and its tracked requests.
type ResourceState struct {
	resourceType string
	table        *Table
	requests     map[string]*ir.Request
}

// NewResourceState returns the empty state of resourceType.
func NewResourceState(resourceType string) *ResourceState {
	return &ResourceState{
		resourceType: resourceType,
		table:        NewTable(),
		requests:     map[string]*ir.Request{},
	}
}

// Type returns the resource type.
func (rs *ResourceState) Type() string { return rs.resourceType }

// Table returns the entity table.
func (rs *ResourceState) Table() *Table { return rs.table }

// Request returns the tracked request for key, or nil.
func (rs *ResourceState) Request(key string) *ir.Request {
	return rs.requests[key]
}

// RequestKeys returns tracked request keys in sorted order.
func (rs *ResourceState) RequestKeys() []string {
	return slices.Sorted(maps.Keys(rs.requests))
}

func (rs *ResourceState) withTable(t *Table) *ResourceState {
	if t == rs.table {
		return rs
	}
	next := *rs
	next.table = t
	return &next
}

func (rs *ResourceState) withRequest(req *ir.Request) *ResourceState {
	next := *rs
	next.requests = maps.Clone(rs.requests)
	next.requests[req.Key] = req
	return &next
}

// withoutIDs removes ids from every tracked request's id list. Requests
// that reference none of them keep their pointer.
func (rs *ResourceState) withoutIDs(ids []string) *ResourceState {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	var requests map[string]*ir.Request
	for key, req := range rs.requests {
		if !slices.ContainsFunc(req.IDs, func(id string) bool { return drop[id] }) {
			continue
		}
		if requests == nil {
			requests = maps.Clone(rs.requests)
		}
		updated := *req
		updated.IDs = slices.DeleteFunc(slices.Clone(req.IDs), func(id string) bool { return drop[id] })
		requests[key] = &updated
	}
	if requests == nil {
		return rs
	}
	next := *rs
	next.requests = requests
	return &next
}

// State is the whole store: one ResourceState per declared type.
type State struct {
	byType map[string]*ResourceState
}

// NewState returns the empty state for every type of s.
func NewState(s *schema.Schema) *State {
	st := &State{byType: make(map[string]*ResourceState)}
	for _, t := range s.Types() {
		st.byType[t] = NewResourceState(t)
	}
	return st
}

// Resource returns the state of resourceType.
func (st *State) Resource(resourceType string) (*ResourceState, bool) {
	rs, ok := st.byType[resourceType]
	return rs, ok
}

// Types returns the resource types in sorted order.
func (st *State) Types() []string {
	return slices.Sorted(maps.Keys(st.byType))
}

// Value renders the state as a canonical-friendly ir.Value:
//
//	{<type>: {"resources": [<record>...], "requests": {<key>: <request>}}}
//
// Records appear in table order.
func (st *State) Value() ir.Object {
	out := make(ir.Object, len(st.byType))
	for t, rs := range st.byType {
		resources := make(ir.Array, 0, rs.table.Len())
		for e := range rs.table.All() {
			resources = append(resources, e.fields)
		}
		requests := make(ir.Object, len(rs.requests))
		for key, req := range rs.requests {
			requests[key] = requestValue(req)
		}
		out[t] = ir.Object{
			"resources": resources,
			"requests":  requests,
		}
	}
	return out
}

func requestValue(req *ir.Request) ir.Object {
	ids := make(ir.Array, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = ir.String(id)
	}
	return ir.Object{
		"status":             ir.String(req.Status),
		"ids":                ids,
		"is_list":            ir.Bool(req.IsList),
		"included_resources": includedValue(req.Included),
	}
}

func includedValue(inc ir.Included) ir.Object {
	out := make(ir.Object, len(inc))
	for name, sub := range inc {
		if len(sub) == 0 {
			out[name] = ir.Bool(true)
			continue
		}
		out[name] = includedValue(sub)
	}
	return out
}

// Digest returns the content hash of the state. Two states holding the
// same records (in the same table order) and requests share a digest.
func (st *State) Digest() (string, error) {
	canonical, err := ir.MarshalCanonical(st.Value())
	if err != nil {
		return "", fmt.Errorf("state digest: %w", err)
	}
	return ir.DigestCanonical(canonical), nil
}
