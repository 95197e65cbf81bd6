package resource

import (
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/roach88/restcache/internal/ir"
)

// Entity is one stored record. Entities are immutable; an upsert that
// changes any field stores a new *Entity, and one that changes nothing
// keeps the old pointer.
type Entity struct {
	id     string
	fields ir.Object
}

// NewEntity builds an entity from a record carrying an "id" field.
func NewEntity(fields ir.Object) (*Entity, error) {
	id, ok := ir.IDString(fields["id"])
	if !ok {
		return nil, ErrMissingEntityID
	}
	return &Entity{id: id, fields: fields}, nil
}

// ID returns the table key of the entity.
func (e *Entity) ID() string { return e.id }

// Get returns one stored field.
func (e *Entity) Get(field string) (ir.Value, bool) {
	v, ok := e.fields[field]
	return v, ok
}

// Fields returns the stored record. The map is shared and must not be
// modified.
func (e *Entity) Fields() ir.Object { return e.fields }

// MarshalJSON renders the stored record.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return e.fields.MarshalJSON()
}

// Table is an insertion-ordered, copy-on-write {id -> entity} map.
// Existing ids keep their position on update; new ids append.
type Table struct {
	entities []*Entity
	index    map[string]int
}

// NewTable builds a table holding entities in the given order.
// A later entity with a duplicate id replaces the earlier one in place.
func NewTable(entities ...*Entity) *Table {
	t := &Table{index: make(map[string]int, len(entities))}
	for _, e := range entities {
		if i, ok := t.index[e.id]; ok {
			t.entities[i] = e
			continue
		}
		t.index[e.id] = len(t.entities)
		t.entities = append(t.entities, e)
	}
	return t
}

// Get looks up an entity by id.
func (t *Table) Get(id string) (*Entity, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.entities[i], true
}

// Len returns the number of stored entities.
func (t *Table) Len() int { return len(t.entities) }

// IDs returns the stored ids in table order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.entities))
	for i, e := range t.entities {
		ids[i] = e.id
	}
	return ids
}

// All iterates entities in table order.
func (t *Table) All() iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		for _, e := range t.entities {
			if !yield(e) {
				return
			}
		}
	}
}

func (t *Table) clone() *Table {
	return &Table{
		entities: slices.Clone(t.entities),
		index:    maps.Clone(t.index),
	}
}

// upsert merges records into the table, new fields winning per field.
// Returns t itself when nothing changed.
func (t *Table) upsert(records []ir.Object) (*Table, error) {
	next := t
	for _, rec := range records {
		id, ok := ir.IDString(rec["id"])
		if !ok {
			return nil, fmt.Errorf("upsert: %w", ErrMissingEntityID)
		}

		i, exists := next.index[id]
		if !exists {
			if next == t {
				next = t.clone()
			}
			next.index[id] = len(next.entities)
			next.entities = append(next.entities, &Entity{id: id, fields: rec.Clone()})
			continue
		}

		merged, changed := mergeFields(next.entities[i].fields, rec)
		if !changed {
			continue
		}
		if next == t {
			next = t.clone()
		}
		next.entities[i] = &Entity{id: id, fields: merged}
	}
	return next, nil
}

// mergeFields overlays update onto stored. Fields absent from update are
// kept.
func mergeFields(stored, update ir.Object) (ir.Object, bool) {
	changed := false
	for k, v := range update {
		if old, ok := stored[k]; !ok || !ir.Equal(old, v) {
			changed = true
			break
		}
	}
	if !changed {
		return stored, false
	}
	merged := stored.Clone()
	for k, v := range update {
		merged[k] = v
	}
	return merged, true
}

// remove drops ids from the table. Returns t itself when none were stored.
func (t *Table) remove(ids []string) *Table {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := t.index[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return t
	}

	kept := make([]*Entity, 0, len(t.entities)-len(drop))
	for _, e := range t.entities {
		if !drop[e.id] {
			kept = append(kept, e)
		}
	}
	return NewTable(kept...)
}
