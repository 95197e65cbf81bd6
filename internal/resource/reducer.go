package resource

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/schema"
)

// Reducer applies actions to the state of one resource type.
type Reducer struct {
	schema       *schema.Schema
	resourceType string
}

// NewReducer returns the reducer of resourceType.
func NewReducer(s *schema.Schema, resourceType string) (*Reducer, error) {
	if !s.Has(resourceType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, resourceType)
	}
	return &Reducer{schema: s, resourceType: resourceType}, nil
}

// Type returns the resource type the reducer owns.
func (r *Reducer) Type() string { return r.resourceType }

// Apply returns the state after a. A nil state is the empty state.
// The returned state is rs itself when a leaves this type untouched.
//
// Request transitions only happen when a targets this type; entity upserts
// from an UPDATE_SUCCEEDED payload happen for every type the payload
// embeds.
func (r *Reducer) Apply(rs *ResourceState, a ir.Action) (*ResourceState, error) {
	if err := checkAction(a); err != nil {
		return nil, err
	}
	var n *Normalized
	if a.Kind == ir.KindUpdateSucceeded {
		var err error
		n, err = Normalize(r.schema, a.ResourceType, a.Payload)
		if err != nil {
			return nil, err
		}
	}
	return r.apply(rs, a, n)
}

func checkAction(a ir.Action) error {
	if missing := a.MissingProperties(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingActionProperty, strings.Join(missing, ", "))
	}
	return nil
}

func (r *Reducer) apply(rs *ResourceState, a ir.Action, n *Normalized) (*ResourceState, error) {
	if rs == nil {
		rs = NewResourceState(r.resourceType)
	}
	target := a.ResourceType == r.resourceType

	switch a.Kind {
	case ir.KindUpdatePending:
		if !target {
			return rs, nil
		}
		return rs.withRequest(&ir.Request{
			Key:      a.RequestKey,
			Status:   ir.StatusPending,
			IDs:      []string{},
			Included: ir.Included{},
		}), nil

	case ir.KindUpdateSucceeded:
		if n == nil {
			n = &Normalized{IDs: []string{}, Included: ir.Included{}}
		}
		next := rs
		if records := n.Records[r.resourceType]; len(records) > 0 {
			table, err := rs.table.upsert(records)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", r.resourceType, err)
			}
			next = next.withTable(table)
		}
		if !target {
			return next, nil
		}
		return next.withRequest(&ir.Request{
			Key:      a.RequestKey,
			Status:   ir.StatusSucceeded,
			IDs:      slices.Clone(n.IDs),
			IsList:   n.IsList,
			Included: n.Included,
		}), nil

	case ir.KindDeletePending:
		if !target {
			return rs, nil
		}
		return rs.withRequest(&ir.Request{
			Key:      a.RequestKey,
			Status:   ir.StatusPending,
			IDs:      cloneIDs(a.IDs),
			Included: ir.Included{},
		}), nil

	case ir.KindDeleteSucceeded:
		if !target {
			return rs, nil
		}
		next := rs.withTable(rs.table.remove(a.IDs)).withoutIDs(a.IDs)
		return next.withRequest(&ir.Request{
			Key:      a.RequestKey,
			Status:   ir.StatusSucceeded,
			IDs:      cloneIDs(a.IDs),
			Included: ir.Included{},
		}), nil

	case ir.KindDeleteFailed:
		if !target {
			return rs, nil
		}
		return rs.withRequest(&ir.Request{
			Key:      a.RequestKey,
			Status:   ir.StatusFailed,
			IDs:      cloneIDs(a.IDs),
			Included: ir.Included{},
		}), nil

	case ir.KindInsertRequestResource:
		if !target {
			return rs, nil
		}
		existing := rs.requests[a.RequestKey]
		if existing == nil {
			return nil, fmt.Errorf("%w: %s[%s]", ErrUnknownRequest, r.resourceType, a.RequestKey)
		}
		updated := *existing
		updated.IDs = append(slices.Clone(existing.IDs), a.IDs...)
		return rs.withRequest(&updated), nil
	}

	// UPDATE_FAILED and every other *_FAILED kind.
	if a.Kind.IsFailure() && target {
		return rs.withRequest(&ir.Request{
			Key:      a.RequestKey,
			Status:   ir.StatusFailed,
			IDs:      []string{},
			Included: ir.Included{},
		}), nil
	}
	return rs, nil
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return slices.Clone(ids)
}
