package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/testutil"
)

func articlesReducer(t *testing.T) *Reducer {
	t.Helper()
	r, err := NewReducer(testutil.BlogSchema(), "articles")
	require.NoError(t, err)
	return r
}

func TestNewReducerUnknownType(t *testing.T) {
	_, err := NewReducer(testutil.BlogSchema(), "tags")
	assert.ErrorIs(t, err, ErrUnknownResourceType)
}

func TestReducerUpdatePending(t *testing.T) {
	r := articlesReducer(t)

	rs, err := r.Apply(nil, ir.Action{Kind: ir.KindUpdatePending, ResourceType: "articles", RequestKey: "k"})
	require.NoError(t, err)

	req := rs.Request("k")
	require.NotNil(t, req)
	assert.Equal(t, ir.StatusPending, req.Status)
	assert.Equal(t, []string{}, req.IDs)
	assert.False(t, req.IsList)
	assert.Empty(t, req.Included)
}

func TestReducerIgnoresOtherTypesRequests(t *testing.T) {
	r := articlesReducer(t)
	rs := NewResourceState("articles")

	for _, kind := range []ir.Kind{
		ir.KindUpdatePending, ir.KindUpdateFailed, ir.KindDeletePending,
		ir.KindDeleteSucceeded, ir.KindDeleteFailed, ir.KindInsertRequestResource,
		ir.KindReadFailed,
	} {
		next, err := r.Apply(rs, ir.Action{Kind: kind, ResourceType: "comments", RequestKey: "k", IDs: []string{"x"}})
		require.NoError(t, err, kind)
		assert.Same(t, rs, next, kind)
	}
}

func TestReducerUpdateSucceededList(t *testing.T) {
	r := articlesReducer(t)

	rs, err := r.Apply(nil, ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "articles",
		RequestKey:   "list",
		Payload:      ir.Array{testutil.Article("B", "b"), testutil.Article("A", "a")},
	})
	require.NoError(t, err)

	req := rs.Request("list")
	require.NotNil(t, req)
	assert.Equal(t, ir.StatusSucceeded, req.Status)
	assert.Equal(t, []string{"B", "A"}, req.IDs, "payload order is preserved")
	assert.True(t, req.IsList)
	assert.Equal(t, []string{"B", "A"}, rs.Table().IDs())
}

func TestReducerUpdateSucceededNonTargetUpsertsOnly(t *testing.T) {
	r, err := NewReducer(testutil.BlogSchema(), "comments")
	require.NoError(t, err)

	rs, err := r.Apply(nil, ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "articles",
		RequestKey:   "k",
		Payload:      testutil.ArticleWithComments("a1", "T", testutil.Comment("c1", "a1", "hi")),
	})
	require.NoError(t, err)

	assert.Nil(t, rs.Request("k"), "non-target stores get no request")
	assert.Equal(t, []string{"c1"}, rs.Table().IDs())
}

func TestReducerUpdateSucceededIdempotent(t *testing.T) {
	r := articlesReducer(t)
	a := ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "articles",
		RequestKey:   "k",
		Payload:      testutil.ArticleList(),
	}

	once, err := r.Apply(nil, a)
	require.NoError(t, err)
	twice, err := r.Apply(once, a)
	require.NoError(t, err)

	assert.Same(t, once.Table(), twice.Table(), "re-applying the same payload changes nothing")
	assert.Equal(t, once.Request("k").IDs, twice.Request("k").IDs)
}

func TestReducerUpdateFailed(t *testing.T) {
	r := articlesReducer(t)

	rs, err := r.Apply(nil, ir.Action{Kind: ir.KindUpdateFailed, ResourceType: "articles", RequestKey: "k"})
	require.NoError(t, err)

	req := rs.Request("k")
	require.NotNil(t, req, "failure creates the request when absent")
	assert.Equal(t, ir.StatusFailed, req.Status)
	assert.Equal(t, []string{}, req.IDs)
}

func TestReducerFailureSafetyNet(t *testing.T) {
	r := articlesReducer(t)

	for _, kind := range []ir.Kind{ir.KindReadFailed, ir.KindCreateFailed, "ARCHIVE_FAILED"} {
		rs, err := r.Apply(nil, ir.Action{Kind: kind, ResourceType: "articles", RequestKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, ir.StatusFailed, rs.Request("k").Status, kind)
	}

	rs := NewResourceState("articles")
	next, err := r.Apply(rs, ir.Action{Kind: "ARCHIVE_REQUESTED", ResourceType: "articles", RequestKey: "k"})
	require.NoError(t, err)
	assert.Same(t, rs, next, "unknown non-failure kinds are ignored")
}

func TestReducerDeleteLifecycle(t *testing.T) {
	r := articlesReducer(t)

	rs, err := r.Apply(nil, ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "articles",
		RequestKey:   "list",
		Payload:      ir.Array{testutil.Article("X", "x"), testutil.Article("Y", "y")},
	})
	require.NoError(t, err)
	rs, err = r.Apply(rs, ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "articles",
		RequestKey:   "single",
		Payload:      testutil.Article("X", "x"),
	})
	require.NoError(t, err)

	rs, err = r.Apply(rs, ir.Action{Kind: ir.KindDeletePending, ResourceType: "articles", RequestKey: "del", IDs: []string{"X"}})
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPending, rs.Request("del").Status)
	assert.Equal(t, []string{"X"}, rs.Request("del").IDs)
	assert.Equal(t, 2, rs.Table().Len(), "pending delete does not touch the table")

	rs, err = r.Apply(rs, ir.Action{Kind: ir.KindDeleteSucceeded, ResourceType: "articles", RequestKey: "del", IDs: []string{"X"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"Y"}, rs.Table().IDs())
	assert.Equal(t, []string{"Y"}, rs.Request("list").IDs, "cascade reaches every request")
	assert.Equal(t, []string{}, rs.Request("single").IDs)

	del := rs.Request("del")
	assert.Equal(t, ir.StatusSucceeded, del.Status)
	assert.Equal(t, []string{"X"}, del.IDs)
	assert.False(t, del.IsList)
}

func TestReducerDeleteFailedKeepsTable(t *testing.T) {
	r := articlesReducer(t)
	rs, err := r.Apply(nil, ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "articles",
		RequestKey:   "k",
		Payload:      testutil.Article("X", "x"),
	})
	require.NoError(t, err)

	next, err := r.Apply(rs, ir.Action{Kind: ir.KindDeleteFailed, ResourceType: "articles", RequestKey: "del", IDs: []string{"X"}})
	require.NoError(t, err)

	assert.Same(t, rs.Table(), next.Table())
	assert.Equal(t, ir.StatusFailed, next.Request("del").Status)
	assert.Equal(t, []string{"X"}, next.Request("del").IDs)
}

func TestReducerInsertRequestResource(t *testing.T) {
	r := articlesReducer(t)
	rs, err := r.Apply(nil, ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "articles",
		RequestKey:   "list",
		Payload:      ir.Array{testutil.Article("a1", "x")},
	})
	require.NoError(t, err)
	before := rs.Request("list")

	rs, err = r.Apply(rs, ir.Action{Kind: ir.KindInsertRequestResource, ResourceType: "articles", RequestKey: "list", IDs: []string{"a9"}})
	require.NoError(t, err)

	after := rs.Request("list")
	assert.Equal(t, []string{"a1", "a9"}, after.IDs)
	assert.True(t, after.IsList)
	assert.NotSame(t, before, after)
	assert.Equal(t, []string{"a1"}, before.IDs, "previous request value is untouched")

	_, err = r.Apply(rs, ir.Action{Kind: ir.KindInsertRequestResource, ResourceType: "articles", RequestKey: "missing", IDs: []string{"a9"}})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestReducerMissingResourceType(t *testing.T) {
	r := articlesReducer(t)

	_, err := r.Apply(nil, ir.Action{Kind: ir.KindUpdatePending, RequestKey: "k"})
	require.ErrorIs(t, err, ErrMissingActionProperty)
	assert.Equal(t, "missing action properties: resourceType", err.Error())
}

func TestReducerRequestIdentityChangesEveryTransition(t *testing.T) {
	r := articlesReducer(t)
	a := ir.Action{Kind: ir.KindUpdateFailed, ResourceType: "articles", RequestKey: "k"}

	rs1, err := r.Apply(nil, a)
	require.NoError(t, err)
	rs2, err := r.Apply(rs1, a)
	require.NoError(t, err)

	assert.NotSame(t, rs1.Request("k"), rs2.Request("k"))
}
