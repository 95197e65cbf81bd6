package denorm

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resource"
	"github.com/roach88/restcache/internal/schema"
	"github.com/roach88/restcache/internal/testutil"
)

var fullSpec = ir.Included{
	"author":   nil,
	"comments": ir.Included{"author": nil},
}

func seededStore(t *testing.T) *resource.Store {
	t.Helper()
	s := resource.NewStore(testutil.BlogSchema())
	require.NoError(t, s.Dispatch(ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "articles",
		RequestKey:   "list",
		Payload:      testutil.ArticleList(),
	}))
	return s
}

func update(t *testing.T, s *resource.Store, resourceType string, payload ir.Value) {
	t.Helper()
	require.NoError(t, s.Dispatch(ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: resourceType,
		RequestKey:   "update",
		Payload:      payload,
	}))
}

func resolveList(t *testing.T, c *Cache, s *resource.Store, included ir.Included) *List {
	t.Helper()
	res, err := Resolve(c, s.Schema(), s.State(), "articles", Many("a1", "a2"), included)
	require.NoError(t, err)
	list, ok := res.(*List)
	require.True(t, ok, "got %T", res)
	return list
}

func TestResolveRelationCorrectness(t *testing.T) {
	s := seededStore(t)
	list := resolveList(t, NewCache(), s, fullSpec)

	require.Equal(t, []string{"a1", "a2"}, list.IDs())
	a1 := list.Items[0]

	comments := a1.Many("comments")
	require.NotNil(t, comments)
	assert.Equal(t, []string{"c1", "c2"}, comments.IDs(), "table order")

	assert.Equal(t, "u1", a1.One("author").ID())
	assert.Nil(t, comments.Items[0].One("author"), "c1 has no author")
	assert.Equal(t, "u2", comments.Items[1].One("author").ID())

	a2 := list.Items[1]
	assert.Equal(t, 0, a2.Many("comments").Len())
	assert.Nil(t, a2.One("author"))
}

func TestResolveOnlyIncludedRelations(t *testing.T) {
	s := seededStore(t)
	list := resolveList(t, NewCache(), s, ir.Included{"comments": nil})

	a1 := list.Items[0]
	assert.Len(t, a1.Relations, 1)
	assert.Nil(t, a1.Many("comments").Items[1].One("author"), "nested relation not requested")
	_, embedded := a1.Value()["author"]
	assert.False(t, embedded)
}

func TestResolveNoOpStability(t *testing.T) {
	s := seededStore(t)
	c := NewCache()

	first := resolveList(t, c, s, fullSpec)
	second := resolveList(t, c, s, fullSpec)
	assert.Same(t, first, second)

	single1, err := Resolve(c, s.Schema(), s.State(), "articles", One("a1"), fullSpec)
	require.NoError(t, err)
	single2, err := Resolve(c, s.Schema(), s.State(), "articles", One("a1"), fullSpec)
	require.NoError(t, err)
	assert.Same(t, single1.(*Node), single2.(*Node))
	assert.Same(t, first.Items[0], single1.(*Node), "top-level nodes are shared between list and single reads")
}

func TestResolveIrrelevantMutationStability(t *testing.T) {
	s := seededStore(t)
	c := NewCache()
	before := resolveList(t, c, s, fullSpec)

	// Unrelated user.
	update(t, s, "users", testutil.User("u3", "Linus"))
	// Comment on an article outside the read.
	update(t, s, "comments", testutil.Comment("c9", "zz", "elsewhere"))
	// Request bookkeeping only.
	require.NoError(t, s.Dispatch(ir.Action{Kind: ir.KindUpdatePending, ResourceType: "articles", RequestKey: "other"}))

	after := resolveList(t, c, s, fullSpec)
	assert.Same(t, before, after)
}

func TestResolveUnreachableMutationStability(t *testing.T) {
	s := seededStore(t)
	c := NewCache()
	before := resolveList(t, c, s, ir.Included{})

	// Comments are stored but not part of this read.
	update(t, s, "comments", testutil.Comment("c1", "a1", "edited"))

	after := resolveList(t, c, s, ir.Included{})
	assert.Same(t, before, after)
}

func TestResolveRelevantMutationInvalidates(t *testing.T) {
	s := seededStore(t)
	c := NewCache()
	before := resolveList(t, c, s, fullSpec)

	update(t, s, "comments", testutil.Comment("c2", "a1", "edited"))

	after := resolveList(t, c, s, fullSpec)
	assert.NotSame(t, before, after)
	assert.NotSame(t, before.Items[0], after.Items[0], "a1 reaches c2")
	assert.Same(t, before.Items[1], after.Items[1], "a2 does not")

	assert.Same(t, before.Items[0].Many("comments").Items[0], after.Items[0].Many("comments").Items[0], "c1 untouched")
	body, _ := after.Items[0].Many("comments").Items[1].Get("body")
	assert.Equal(t, ir.String("edited"), body)
}

func TestResolveDeepMutationInvalidates(t *testing.T) {
	s := seededStore(t)
	c := NewCache()
	before := resolveList(t, c, s, fullSpec)

	update(t, s, "users", testutil.User("u2", "Grace Hopper"))

	after := resolveList(t, c, s, fullSpec)
	assert.NotSame(t, before.Items[0], after.Items[0])
	assert.Same(t, before.Items[0].One("author"), after.Items[0].One("author"), "u1 untouched")
}

func TestResolveNewRelatedRecordInvalidates(t *testing.T) {
	s := seededStore(t)
	c := NewCache()
	before := resolveList(t, c, s, fullSpec)

	update(t, s, "comments", testutil.Comment("c3", "a2", "first on a2"))

	after := resolveList(t, c, s, fullSpec)
	assert.Same(t, before.Items[0], after.Items[0])
	assert.NotSame(t, before.Items[1], after.Items[1])
	assert.Equal(t, []string{"c3"}, after.Items[1].Many("comments").IDs())
}

func TestResolveIncludedChangeInvalidates(t *testing.T) {
	s := seededStore(t)
	c := NewCache()

	withComments := resolveList(t, c, s, ir.Included{"comments": nil})
	bare := resolveList(t, c, s, ir.Included{})
	assert.NotSame(t, withComments.Items[0], bare.Items[0])
	assert.Empty(t, bare.Items[0].Relations)
}

func TestResolveSelections(t *testing.T) {
	s := seededStore(t)
	c := NewCache()

	res, err := Resolve(c, s.Schema(), s.State(), "articles", None, fullSpec)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = Resolve(c, s.Schema(), s.State(), "articles", One("missing"), fullSpec)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = Resolve(c, s.Schema(), s.State(), "articles", Many("a2", "missing", "a1"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1"}, res.(*List).IDs(), "requested order, missing skipped")

	res, err = Resolve(c, s.Schema(), s.State(), "articles", Many(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.(*List).Len())
}

func TestResolveUnknownRelation(t *testing.T) {
	s := seededStore(t)

	_, err := Resolve(NewCache(), s.Schema(), s.State(), "articles", Many("a1"), ir.Included{"tags": nil})
	require.ErrorIs(t, err, ErrUnknownRelation)
	assert.Contains(t, err.Error(), `"tags"`)

	_, err = Resolve(NewCache(), s.Schema(), s.State(), "articles", None, ir.Included{"comments": ir.Included{"likes": nil}})
	require.ErrorIs(t, err, ErrUnknownRelation)
	assert.Contains(t, err.Error(), "comments.likes")
}

func TestResolveUnknownType(t *testing.T) {
	s := seededStore(t)
	_, err := Resolve(NewCache(), s.Schema(), s.State(), "tags", Many("a1"), nil)
	assert.ErrorIs(t, err, resource.ErrUnknownResourceType)
}

func TestResolveSelfReferencingType(t *testing.T) {
	sch := schema.MustNew(schema.Definition{
		"users": {
			"manager": {ResourceType: "users", RelationType: schema.CardinalityOne, ForeignKey: "managerId"},
			"reports": {ResourceType: "users", RelationType: schema.CardinalityMany, ForeignKey: "managerId"},
		},
	})
	s := resource.NewStore(sch)
	boss := testutil.User("u1", "Boss")
	boss["reports"] = ir.Array{testutil.User("u2", "Dev"), testutil.User("u3", "Ops")}
	require.NoError(t, s.Dispatch(ir.Action{Kind: ir.KindUpdateSucceeded, ResourceType: "users", RequestKey: "k", Payload: boss}))

	res, err := GetRequestResources(NewCache(), sch, s.State(), "users", "k", nil)
	require.NoError(t, err)
	node := res.(*Node)
	assert.Equal(t, []string{"u2", "u3"}, node.Many("reports").IDs())

	res, err = Resolve(NewCache(), sch, s.State(), "users", One("u3"), ir.Included{"manager": nil})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.(*Node).One("manager").ID())
}

func TestGetRequestResources(t *testing.T) {
	s := seededStore(t)
	c := NewCache()

	res, err := GetRequestResources(c, s.Schema(), s.State(), "articles", "list", nil)
	require.NoError(t, err)
	list := res.(*List)
	assert.Equal(t, []string{"a1", "a2"}, list.IDs())
	assert.Equal(t, "u1", list.Items[0].One("author").ID(), "inferred spec embeds the author")

	res, err = GetRequestResources(c, s.Schema(), s.State(), "articles", "list", ir.Included{})
	require.NoError(t, err)
	assert.Empty(t, res.(*List).Items[0].Relations, "empty override embeds nothing")

	res, err = GetRequestResources(c, s.Schema(), s.State(), "articles", "never", nil)
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = GetRequestResources(c, s.Schema(), s.State(), "tags", "list", nil)
	assert.ErrorIs(t, err, resource.ErrUnknownResourceType)
}

func TestGetRequestResourcesSingle(t *testing.T) {
	s := seededStore(t)
	update(t, s, "articles", testutil.Article("a1", "First"))

	res, err := GetRequestResources(NewCache(), s.Schema(), s.State(), "articles", "update", nil)
	require.NoError(t, err)
	node, ok := res.(*Node)
	require.True(t, ok)
	assert.Equal(t, "a1", node.ID())
	assert.Empty(t, node.Relations)
}

func TestGetRequestResourcesPendingIsEmpty(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, s.Dispatch(ir.Action{Kind: ir.KindUpdatePending, ResourceType: "articles", RequestKey: "p"}))

	res, err := GetRequestResources(NewCache(), s.Schema(), s.State(), "articles", "p", nil)
	require.NoError(t, err)
	assert.Nil(t, res, "a pending non-list request has no ids")
}

func TestCacheResetAndLen(t *testing.T) {
	s := seededStore(t)
	c := NewCache()
	before := resolveList(t, c, s, fullSpec)
	assert.Positive(t, c.Len())

	c.Reset()
	assert.Equal(t, 0, c.Len())
	after := resolveList(t, c, s, fullSpec)
	assert.NotSame(t, before, after)
}

func TestSharedSitesKeepStability(t *testing.T) {
	s := seededStore(t)
	a := NewCache()
	b := a.Share()

	first := resolveList(t, a, s, fullSpec)

	res, err := Resolve(b, s.Schema(), s.State(), "articles", Many("a2"), ir.Included{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, res.(*List).IDs())
	_, err = Resolve(b, s.Schema(), s.State(), "articles", One("a1"), ir.Included{"comments": nil})
	require.NoError(t, err)

	second := resolveList(t, a, s, fullSpec)
	assert.Same(t, first, second, "other selections and specs on the arena leave the list alone")

	viaB := resolveList(t, b, s, fullSpec)
	assert.Same(t, first, viaB)
}

func TestCacheEvictsUnreachedEntries(t *testing.T) {
	s := seededStore(t)
	c := NewCache()
	resolveList(t, c, s, fullSpec)
	full := c.Len()

	res, err := Resolve(c, s.Schema(), s.State(), "articles", Many("a2"), ir.Included{})
	require.NoError(t, err)
	require.Equal(t, []string{"a2"}, res.(*List).IDs())
	assert.Less(t, c.Len(), full)
	assert.Equal(t, 2, c.Len(), "node a2 and its list")

	c.Release()
	assert.Equal(t, 0, c.Len())
}

func TestSharedEntryLivesWhileHeld(t *testing.T) {
	s := seededStore(t)
	a := NewCache()
	b := a.Share()

	resolveList(t, a, s, fullSpec)
	before := resolveList(t, b, s, fullSpec)

	a.Release()
	assert.Positive(t, a.Len())
	after := resolveList(t, b, s, fullSpec)
	assert.Same(t, before, after)

	b.Release()
	assert.Equal(t, 0, b.Len())
}

func TestValueRendersNull(t *testing.T) {
	assert.Equal(t, ir.Null{}, Value(nil))
	var n *Node
	assert.Equal(t, ir.Null{}, Value(n))
}

func TestArticleListViewGolden(t *testing.T) {
	s := seededStore(t)
	res, err := GetRequestResources(NewCache(), s.Schema(), s.State(), "articles", "list", nil)
	require.NoError(t, err)

	compact, err := json.Marshal(res)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, json.Indent(&out, compact, "", "  "))
	out.WriteByte('\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "article_list_view", out.Bytes())
}
