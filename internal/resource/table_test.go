package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcache/internal/ir"
)

func TestTableUpsertMergesPerField(t *testing.T) {
	tbl, err := NewTable().upsert([]ir.Object{{"id": ir.String("a"), "x": ir.Int(1)}})
	require.NoError(t, err)
	tbl, err = tbl.upsert([]ir.Object{{"id": ir.String("a"), "y": ir.Int(2)}})
	require.NoError(t, err)

	e, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, ir.Object{"id": ir.String("a"), "x": ir.Int(1), "y": ir.Int(2)}, e.Fields())
}

func TestTableUpsertUnchangedKeepsPointers(t *testing.T) {
	tbl, err := NewTable().upsert([]ir.Object{{"id": ir.String("a"), "x": ir.Int(1)}})
	require.NoError(t, err)
	before, _ := tbl.Get("a")

	same, err := tbl.upsert([]ir.Object{{"id": ir.String("a"), "x": ir.Int(1)}})
	require.NoError(t, err)
	assert.Same(t, tbl, same)

	changed, err := tbl.upsert([]ir.Object{{"id": ir.String("a"), "x": ir.Int(2)}})
	require.NoError(t, err)
	after, _ := changed.Get("a")
	assert.NotSame(t, before, after)

	old, _ := tbl.Get("a")
	assert.Same(t, before, old, "the previous table is untouched")
	assert.Equal(t, ir.Int(1), old.Fields()["x"])
}

func TestTableOrder(t *testing.T) {
	tbl, err := NewTable().upsert([]ir.Object{
		{"id": ir.String("b")},
		{"id": ir.String("a")},
	})
	require.NoError(t, err)
	tbl, err = tbl.upsert([]ir.Object{
		{"id": ir.String("c")},
		{"id": ir.String("b"), "x": ir.Bool(true)},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, tbl.IDs(), "updates keep position, new ids append")
	assert.Equal(t, 3, tbl.Len())
}

func TestTableIntegerIDs(t *testing.T) {
	tbl, err := NewTable().upsert([]ir.Object{{"id": ir.Int(42)}})
	require.NoError(t, err)

	e, ok := tbl.Get("42")
	require.True(t, ok)
	assert.Equal(t, "42", e.ID())
}

func TestTableRemove(t *testing.T) {
	tbl := NewTable(
		&Entity{id: "a", fields: ir.Object{"id": ir.String("a")}},
		&Entity{id: "b", fields: ir.Object{"id": ir.String("b")}},
		&Entity{id: "c", fields: ir.Object{"id": ir.String("c")}},
	)

	assert.Same(t, tbl, tbl.remove([]string{"zzz"}))

	next := tbl.remove([]string{"b"})
	assert.Equal(t, []string{"a", "c"}, next.IDs())
	_, ok := next.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 3, tbl.Len())
}

func TestNewEntityRequiresID(t *testing.T) {
	_, err := NewEntity(ir.Object{"name": ir.String("x")})
	assert.ErrorIs(t, err, ErrMissingEntityID)

	e, err := NewEntity(ir.Object{"id": ir.String("x")})
	require.NoError(t, err)
	v, ok := e.Get("id")
	assert.True(t, ok)
	assert.Equal(t, ir.String("x"), v)
}
