package denorm

import (
	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resource"
)

// Result is a resolved view: a *Node, a *List, or nil.
type Result interface {
	result()
}

// Node is one entity with its included relations attached.
// Relations holds a *Node (or nil) per hasOne relation and a *List per
// hasMany relation. Nodes are shared between calls and must not be
// modified.
type Node struct {
	Type      string
	Entity    *resource.Entity
	Relations map[string]Result
}

func (*Node) result() {}

// ID returns the entity id.
func (n *Node) ID() string { return n.Entity.ID() }

// Get returns a stored field of the entity.
func (n *Node) Get(field string) (ir.Value, bool) { return n.Entity.Get(field) }

// One returns an attached hasOne relation, or nil.
func (n *Node) One(relation string) *Node {
	child, _ := n.Relations[relation].(*Node)
	return child
}

// Many returns an attached hasMany relation, or nil when not included.
func (n *Node) Many(relation string) *List {
	list, _ := n.Relations[relation].(*List)
	return list
}

// Value renders the node as a nested object: the stored fields plus one
// key per attached relation.
func (n *Node) Value() ir.Object {
	out := n.Entity.Fields().Clone()
	for name, rel := range n.Relations {
		out[name] = Value(rel)
	}
	return out
}

// MarshalJSON renders Value.
func (n *Node) MarshalJSON() ([]byte, error) {
	return n.Value().MarshalJSON()
}

// List is an ordered sequence of nodes.
type List struct {
	Items []*Node
}

func (*List) result() {}

// Len returns the number of items.
func (l *List) Len() int { return len(l.Items) }

// IDs returns the item ids in order.
func (l *List) IDs() []string {
	ids := make([]string, len(l.Items))
	for i, n := range l.Items {
		ids[i] = n.ID()
	}
	return ids
}

// Value renders the list as an array of nested objects.
func (l *List) Value() ir.Array {
	out := make(ir.Array, len(l.Items))
	for i, n := range l.Items {
		out[i] = n.Value()
	}
	return out
}

// MarshalJSON renders Value.
func (l *List) MarshalJSON() ([]byte, error) {
	return l.Value().MarshalJSON()
}

// Value renders any result; nil becomes ir.Null.
func Value(r Result) ir.Value {
	switch v := r.(type) {
	case *Node:
		if v == nil {
			return ir.Null{}
		}
		return v.Value()
	case *List:
		if v == nil {
			return ir.Null{}
		}
		return v.Value()
	default:
		return ir.Null{}
	}
}
