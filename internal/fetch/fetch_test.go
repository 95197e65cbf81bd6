package fetch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcache/internal/denorm"
	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resolver"
	"github.com/roach88/restcache/internal/resource"
	"github.com/roach88/restcache/internal/testutil"
)

var listDescriptor = resolver.Descriptor{URL: "/articles"}

type fixture struct {
	store  *resource.Store
	mock   *resolver.Mock
	client *Client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := resource.NewStore(testutil.BlogSchema())
	mock := resolver.NewMock(resolver.WithDeferred())
	mock.Handle("GET", "/articles", testutil.ArticleList())

	opts = append([]Option{WithExecutor(Inline), WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	c := NewClient(store, mock, opts...)
	t.Cleanup(c.Close)
	return &fixture{store: store, mock: mock, client: c}
}

// settle completes every parked network call and applies the results.
func (f *fixture) settle() {
	f.mock.Flush()
	f.client.Drain()
}

func (f *fixture) query(t *testing.T, d resolver.Descriptor, opts ...QueryOption) *Query {
	t.Helper()
	q, err := f.client.Query(context.Background(), d, opts...)
	require.NoError(t, err)
	return q
}

func result(t *testing.T, q *Query) Result {
	t.Helper()
	r, err := q.Result()
	require.NoError(t, err)
	return r
}

func listIDs(t *testing.T, r Result) []string {
	t.Helper()
	list, ok := r.Data.(*denorm.List)
	require.True(t, ok, "got %T", r.Data)
	return list.IDs()
}

func TestQueryCacheFirstLifecycle(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, listDescriptor)

	r := result(t, q)
	assert.True(t, r.Loading)
	assert.True(t, r.RequestPending)
	assert.Nil(t, r.Data)
	require.NotNil(t, r.Request)
	assert.Equal(t, ir.StatusPending, r.Request.Status)

	f.settle()

	r = result(t, q)
	assert.False(t, r.Loading)
	assert.False(t, r.RequestPending)
	assert.Equal(t, ir.StatusSucceeded, r.Request.Status)
	assert.Equal(t, []string{"a1", "a2"}, listIDs(t, r))
	assert.NoError(t, r.Err)
}

func TestQueryCacheFirstServesTrackedRequest(t *testing.T) {
	f := newFixture(t)
	cache := denorm.NewCache()
	first := f.query(t, listDescriptor, WithCache(cache))
	f.settle()

	second := f.query(t, listDescriptor, WithCache(cache))
	assert.Equal(t, first.Key(), second.Key())
	assert.Equal(t, 1, f.mock.Calls("GET", "/articles"))

	r1 := result(t, first)
	r2 := result(t, second)
	assert.False(t, r2.Loading)
	assert.Same(t, r1.Data, r2.Data)
}

func TestSharedCacheKeepsDifferingQueriesStable(t *testing.T) {
	f := newFixture(t)
	f.mock.Handle("GET", "/articles?page=2", ir.Array{testutil.Article("a3", "Third")})
	cache := denorm.NewCache()

	first := f.query(t, listDescriptor, WithCache(cache))
	second := f.query(t, resolver.Descriptor{URL: "/articles?page=2"}, WithCache(cache), WithIncluded(ir.Included{}))
	require.NotEqual(t, first.Key(), second.Key())
	f.settle()

	var other []Result
	defer second.Subscribe(func(r Result) { other = append(other, r) })()
	var got []Result
	defer first.Subscribe(func(r Result) { got = append(got, r) })()

	r1 := result(t, first)
	assert.Equal(t, []string{"a3"}, listIDs(t, result(t, second)))
	again := result(t, first)
	assert.Same(t, r1.Data, again.Data)

	require.NoError(t, f.store.Dispatch(ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "users",
		RequestKey:   "other",
		Payload:      testutil.User("u9", "Nobody"),
	}))
	assert.Empty(t, got, "no change reached the first query")
	assert.Empty(t, other)

	first.Close()
	second.Close()
	assert.Zero(t, cache.Len())
}

func TestPolicyMatrix(t *testing.T) {
	tests := []struct {
		policy    Policy
		tracked   bool
		wantCalls int
		wantData  bool
		loading   bool
		pending   bool
	}{
		{CacheFirst, true, 0, true, false, false},
		{CacheAndNetwork, true, 1, true, false, true},
		{NetworkOnly, true, 1, false, true, true},
		{CacheOnly, true, 0, true, false, false},
		{CacheFirst, false, 1, false, true, true},
		{CacheAndNetwork, false, 1, false, true, true},
		{NetworkOnly, false, 1, false, true, true},
		{CacheOnly, false, 0, false, false, false},
	}

	for _, tt := range tests {
		name := string(tt.policy)
		if tt.tracked {
			name += "/tracked"
		} else {
			name += "/untracked"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			if tt.tracked {
				f.query(t, listDescriptor)
				f.settle()
			}
			before := f.mock.TotalCalls()

			q := f.query(t, listDescriptor, WithPolicy(tt.policy))
			r := result(t, q)

			assert.Equal(t, tt.wantCalls, f.mock.TotalCalls()-before, "network calls")
			assert.Equal(t, tt.wantData, r.Data != nil, "data visible")
			assert.Equal(t, tt.loading, r.Loading, "loading")
			assert.Equal(t, tt.pending, r.RequestPending, "pending")

			f.settle()
			r = result(t, q)
			assert.False(t, r.Loading)
			if tt.tracked || tt.wantCalls > 0 {
				assert.Equal(t, []string{"a1", "a2"}, listIDs(t, r))
			} else {
				assert.Nil(t, r.Data)
				assert.Nil(t, r.Request)
			}
		})
	}
}

func TestQueryDeduplicatesInFlight(t *testing.T) {
	f := newFixture(t)
	q1 := f.query(t, listDescriptor, WithPolicy(NetworkOnly))
	q2 := f.query(t, listDescriptor, WithPolicy(NetworkOnly))

	assert.Equal(t, 1, f.mock.Calls("GET", "/articles"))
	assert.Equal(t, 1, f.mock.Pending())
	assert.Equal(t, []string{q1.Key()}, f.client.InFlight())

	f.settle()

	assert.Empty(t, f.client.InFlight())
	assert.Equal(t, []string{"a1", "a2"}, listIDs(t, result(t, q1)))
	assert.Equal(t, []string{"a1", "a2"}, listIDs(t, result(t, q2)))
}

func TestEquivalentDescriptorsShareKey(t *testing.T) {
	f := newFixture(t)
	f.mock.Handle("GET", "/articles?page=1", testutil.ArticleList())

	q1 := f.query(t, resolver.Descriptor{URL: "/articles?page=1"})
	q2 := f.query(t, resolver.Descriptor{URL: "/articles", Params: ir.Object{"page": ir.String("1")}})

	assert.Equal(t, q1.Key(), q2.Key())
	assert.Equal(t, 1, f.mock.TotalCalls())
}

func TestRefetchKeepsDataVisible(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, listDescriptor)
	f.settle()
	before := result(t, q)

	require.True(t, q.Refetch(context.Background()))
	assert.False(t, q.Refetch(context.Background()), "refetch while in flight is a no-op")
	assert.Equal(t, 2, f.mock.Calls("GET", "/articles"))

	r := result(t, q)
	assert.True(t, r.RequestPending)
	assert.False(t, r.Loading)
	assert.Same(t, before.Data, r.Data)
	assert.Equal(t, ir.StatusSucceeded, r.Request.Status)

	f.mock.Handle("GET", "/articles", ir.Array{testutil.Article("a1", "Renamed")})
	f.settle()

	r = result(t, q)
	assert.False(t, r.RequestPending)
	assert.Equal(t, []string{"a1"}, listIDs(t, r))
	title, _ := r.Data.(*denorm.List).Items[0].Get("title")
	assert.Equal(t, ir.String("Renamed"), title)
}

func TestNetworkOnlyRefetchKeepsDataVisible(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, listDescriptor, WithPolicy(NetworkOnly))
	f.settle()

	require.True(t, q.Refetch(context.Background()))
	r := result(t, q)
	assert.True(t, r.RequestPending)
	assert.False(t, r.Loading)
	assert.NotNil(t, r.Data)
}

func TestRefetchUnderCacheOnly(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, listDescriptor, WithPolicy(CacheOnly))
	assert.Zero(t, f.mock.TotalCalls())

	require.True(t, q.Refetch(context.Background()))
	f.settle()

	assert.Equal(t, 1, f.mock.TotalCalls())
	assert.Equal(t, []string{"a1", "a2"}, listIDs(t, result(t, q)))
}

func TestQueryFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.Fail("GET", "/articles", 500)

	q := f.query(t, listDescriptor)
	f.settle()

	r := result(t, q)
	assert.False(t, r.Loading)
	assert.Nil(t, r.Data)
	require.NotNil(t, r.Request)
	assert.Equal(t, ir.StatusFailed, r.Request.Status)

	var httpErr *resolver.HTTPError
	require.ErrorAs(t, r.Err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)

	f.mock.Handle("GET", "/articles", testutil.ArticleList())
	q.Refetch(context.Background())
	f.settle()
	assert.NoError(t, result(t, q).Err)
}

func TestQueryRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)
	f.mock.Handle("GET", "/articles", ir.String("not a record"))

	q := f.query(t, listDescriptor)
	f.settle()

	r := result(t, q)
	assert.Equal(t, ir.StatusFailed, r.Request.Status)
	assert.ErrorIs(t, r.Err, resource.ErrInvalidPayload)
}

func TestQueryErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Query(ctx, resolver.Descriptor{ResourceType: "articles"})
	assert.ErrorIs(t, err, ErrNoRequestKey)

	_, err = f.client.Query(ctx, resolver.Descriptor{URL: "/widgets"})
	assert.ErrorIs(t, err, resource.ErrUnknownResourceType)

	_, err = f.client.Query(ctx, listDescriptor, WithIncluded(ir.Included{"bogus": nil}))
	assert.ErrorIs(t, err, denorm.ErrUnknownRelation)

	_, err = f.client.Query(ctx, listDescriptor, WithPolicy("eventually"))
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	assert.Zero(t, f.mock.TotalCalls())
}

func TestQueryIncludedOverride(t *testing.T) {
	f := newFixture(t)
	f.query(t, listDescriptor)
	f.settle()

	q := f.query(t, listDescriptor, WithIncluded(ir.Included{"author": nil}))
	r := result(t, q)
	list := r.Data.(*denorm.List)
	require.Len(t, list.Items, 2)
	assert.NotNil(t, list.Items[0].One("author"))
	_, hasComments := list.Items[0].Relations["comments"]
	assert.False(t, hasComments)
}

func TestSubscribeNotifiesOnChange(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, listDescriptor)

	var got []Result
	unsubscribe := q.Subscribe(func(r Result) { got = append(got, r) })

	f.settle()
	require.Len(t, got, 1)
	assert.False(t, got[0].Loading)
	assert.NotNil(t, got[0].Data)

	// A user no article references leaves the view untouched.
	require.NoError(t, f.store.Dispatch(ir.Action{
		Kind:         ir.KindUpdateSucceeded,
		ResourceType: "users",
		RequestKey:   "other",
		Payload:      testutil.User("u9", "Nobody"),
	}))
	assert.Len(t, got, 1)

	q.Refetch(context.Background())
	require.Len(t, got, 2)
	assert.True(t, got[1].RequestPending)
	assert.Same(t, got[0].Data, got[1].Data)

	unsubscribe()
	f.settle()
	assert.Len(t, got, 2)
}

func TestRunAppliesCompletions(t *testing.T) {
	store := resource.NewStore(testutil.BlogSchema())
	mock := resolver.NewMock()
	mock.Handle("GET", "/articles", testutil.ArticleList())
	c := NewClient(store, mock, WithLogger(slog.New(slog.DiscardHandler)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	q, err := c.Query(ctx, listDescriptor)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := q.Result()
		return err == nil && r.Data != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	c.Close()
}

func TestRunReturnsAfterClose(t *testing.T) {
	f := newFixture(t)
	errCh := make(chan error, 1)
	go func() { errCh <- f.client.Run(context.Background()) }()

	f.client.Close()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestCallbackSettledTwiceAppliesOnce(t *testing.T) {
	store := resource.NewStore(testutil.BlogSchema())
	chatty := resolver.Func(func(d resolver.Descriptor) (resolver.Resolved, error) {
		r, err := resolver.Canonicalize(d)
		if err != nil {
			return r, err
		}
		r.Invoke = func(_ context.Context, onSucceeded func(resolver.Success), onFailed func(resolver.Failure)) {
			onSucceeded(resolver.Success{Data: testutil.ArticleList()})
			onFailed(resolver.Failure{})
			onSucceeded(resolver.Success{Data: ir.Array{}})
		}
		return r, nil
	})
	c := NewClient(store, chatty, WithExecutor(Inline), WithLogger(slog.New(slog.DiscardHandler)))
	defer c.Close()

	q, err := c.Query(context.Background(), listDescriptor)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Queued())
	assert.Equal(t, 1, c.Drain())

	r := result(t, q)
	assert.Equal(t, ir.StatusSucceeded, r.Request.Status)
	assert.Equal(t, []string{"a1", "a2"}, listIDs(t, r))
}

func TestCompletionAfterCloseIsDropped(t *testing.T) {
	f := newFixture(t)
	q := f.query(t, listDescriptor)
	f.client.Close()

	f.mock.Flush()
	assert.Zero(t, f.client.Drain())
	assert.True(t, result(t, q).RequestPending)
}
