package denorm

import (
	"slices"
	"strings"
	"sync"

	"github.com/roach88/restcache/internal/ir"
)

// nodeKey addresses a node by type, id, the relation path from the root of
// the read ("" at the top, "comments.author" below) and the inclusion spec
// embedded under it.
type nodeKey struct {
	Type string
	ID   string
	Path string
	Spec string
}

// listKey addresses a list. Top-level lists use {type, "", "", spec, ids};
// relation lists use {parent type, parent id, relation path, spec, ""}.
type listKey struct {
	Type  string
	Owner string
	Path  string
	Spec  string
	Sel   string
}

// arena holds memoized nodes and lists shared by the sites reading it.
// An entry lives while the latest read of at least one site reached it.
type arena struct {
	mu    sync.Mutex
	nodes map[nodeKey]*Node
	lists map[listKey]*List
	refs  map[any]int
	epoch int
}

// Cache is one read site over a memoization arena. The caller passes it to
// every Resolve for that site. Entries the site's previous read reached
// but its latest read did not are released, and dropped from the arena
// once no site holds them. A Cache may be shared by goroutines; calls are
// serialized.
type Cache struct {
	arena   *arena
	held    map[any]struct{}
	touched map[any]struct{}
	epoch   int
}

// NewCache returns a read site over an empty arena.
func NewCache() *Cache {
	return &Cache{
		arena: &arena{
			nodes: make(map[nodeKey]*Node),
			lists: make(map[listKey]*List),
			refs:  make(map[any]int),
		},
		held: make(map[any]struct{}),
	}
}

// Share returns a new read site over c's arena. Sites reading the same
// entities with the same inclusion spec get the same nodes.
func (c *Cache) Share() *Cache {
	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	return &Cache{
		arena: c.arena,
		held:  make(map[any]struct{}),
		epoch: c.arena.epoch,
	}
}

// Len returns the number of memoized nodes and lists in the arena.
func (c *Cache) Len() int {
	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	return len(c.arena.nodes) + len(c.arena.lists)
}

// Reset drops every memoized entry of the arena, for all sites.
func (c *Cache) Reset() {
	a := c.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.nodes)
	clear(a.lists)
	clear(a.refs)
	a.epoch++
}

// Release drops everything this site holds. The site stays usable.
func (c *Cache) Release() {
	c.arena.mu.Lock()
	defer c.arena.mu.Unlock()
	c.begin()
	c.commit()
}

// begin starts a read. Called with the arena lock held.
func (c *Cache) begin() {
	if c.epoch != c.arena.epoch {
		c.held = make(map[any]struct{})
		c.epoch = c.arena.epoch
	}
	c.touched = make(map[any]struct{})
}

// commit swaps the site's holds for what the read touched and evicts
// entries no site holds anymore. Called with the arena lock held.
func (c *Cache) commit() {
	a := c.arena
	for k := range c.touched {
		if _, ok := c.held[k]; !ok {
			a.refs[k]++
		}
	}
	for k := range c.held {
		if _, ok := c.touched[k]; ok {
			continue
		}
		if a.refs[k] > 1 {
			a.refs[k]--
			continue
		}
		delete(a.refs, k)
		switch k := k.(type) {
		case nodeKey:
			delete(a.nodes, k)
		case listKey:
			delete(a.lists, k)
		}
	}
	c.held = c.touched
	c.touched = nil
}

// list returns the previous list under key when it holds the same node
// pointers in the same order, else stores and returns a new one.
func (c *Cache) list(key listKey, items []*Node) *List {
	c.touched[key] = struct{}{}
	if prev, ok := c.arena.lists[key]; ok && slices.Equal(prev.Items, items) {
		return prev
	}
	l := &List{Items: items}
	c.arena.lists[key] = l
	return l
}

// node returns the previous node under key when it wraps the same entity
// and the same relation results, else stores and returns candidate.
func (c *Cache) node(key nodeKey, candidate *Node) *Node {
	c.touched[key] = struct{}{}
	if prev, ok := c.arena.nodes[key]; ok && prev.Entity == candidate.Entity && sameRelations(prev.Relations, candidate.Relations) {
		return prev
	}
	c.arena.nodes[key] = candidate
	return candidate
}

// sameRelations is the shallow equal-ish check: same relation names, each
// holding the same result pointer (or nil on both sides).
func sameRelations(a, b map[string]Result) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ra := range a {
		rb, ok := b[name]
		if !ok || ra != rb {
			return false
		}
	}
	return true
}

// specKey renders an inclusion spec canonically: sorted names, nested
// specs in parentheses.
func specKey(inc ir.Included) string {
	if len(inc) == 0 {
		return ""
	}
	var b strings.Builder
	for i, name := range inc.Names() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		if sub := inc[name]; len(sub) > 0 {
			b.WriteByte('(')
			b.WriteString(specKey(sub))
			b.WriteByte(')')
		}
	}
	return b.String()
}
