package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resource"
	"github.com/roach88/restcache/internal/testutil"
)

func dispatchAll(t *testing.T, s *resource.Store, actions ...ir.Action) {
	t.Helper()
	for _, a := range actions {
		require.NoError(t, s.Dispatch(a))
	}
}

var blogActions = []ir.Action{
	{Kind: ir.KindUpdatePending, ResourceType: "articles", RequestKey: "list"},
	{Kind: ir.KindUpdateSucceeded, ResourceType: "articles", RequestKey: "list", Payload: testutil.ArticleList()},
	{Kind: ir.KindDeletePending, ResourceType: "articles", RequestKey: "del", IDs: []string{"a2"}},
	{Kind: ir.KindDeleteSucceeded, ResourceType: "articles", RequestKey: "del", IDs: []string{"a2"}},
	{Kind: ir.KindReadFailed, ResourceType: "users", RequestKey: "legacy"},
}

func record(t *testing.T, j *Journal) (*resource.Store, *Recorder) {
	t.Helper()
	store := resource.NewStore(testutil.BlogSchema())
	rec, err := NewRecorder(context.Background(), j, store,
		WithSessionGenerator(testutil.NewFixedSessionGenerator("session-1")))
	require.NoError(t, err)
	dispatchAll(t, store, blogActions...)
	require.NoError(t, rec.Close())
	return store, rec
}

func TestRecorderWritesEveryTransition(t *testing.T) {
	j := createTestJournal(t)
	store, rec := record(t, j)

	assert.Equal(t, "session-1", rec.Session())
	assert.Equal(t, len(blogActions), rec.Count())

	entries, err := j.Entries(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, entries, len(blogActions))

	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, blogActions[i].Kind, e.Kind)
		assert.Equal(t, blogActions[i].RequestKey, e.RequestKey)
	}
	assert.True(t, ir.Equal(testutil.ArticleList(), entries[1].Payload))
	assert.Nil(t, entries[0].Payload)
	assert.Equal(t, []string{"a2"}, entries[3].IDs)

	final, err := store.State().Digest()
	require.NoError(t, err)
	assert.Equal(t, final, entries[len(entries)-1].StateDigest)
}

func TestRecorderStopsAfterClose(t *testing.T) {
	j := createTestJournal(t)
	store, rec := record(t, j)

	dispatchAll(t, store, ir.Action{Kind: ir.KindUpdatePending, ResourceType: "users", RequestKey: "late"})
	assert.Equal(t, len(blogActions), rec.Count())
}

func TestRecorderRejectsUsedStore(t *testing.T) {
	j := createTestJournal(t)
	store := resource.NewStore(testutil.BlogSchema())
	dispatchAll(t, store, blogActions[0])

	_, err := NewRecorder(context.Background(), j, store)
	assert.ErrorIs(t, err, ErrStoreNotEmpty)
}

func TestRecorderKeepsFirstWriteError(t *testing.T) {
	j := createTestJournal(t)
	store := resource.NewStore(testutil.BlogSchema())
	rec, err := NewRecorder(context.Background(), j, store)
	require.NoError(t, err)

	require.NoError(t, j.Close())
	dispatchAll(t, store, blogActions[0])

	assert.Error(t, rec.Err())
	assert.Zero(t, rec.Count())
	assert.Error(t, rec.Close())
}

func TestUUIDv7Sessions(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('7'), a[14], "version nibble")
}

func TestSessionsAndRequestEntries(t *testing.T) {
	j := createTestJournal(t)
	record(t, j)
	ctx := context.Background()

	sessions, err := j.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Session{{
		ID:             "session-1",
		Entries:        len(blogActions),
		FormatVersion:  ir.FormatVersion,
		LibraryVersion: ir.LibraryVersion,
	}}, sessions)

	latest, err := j.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session-1", latest)

	entries, err := j.EntriesForRequest(ctx, "session-1", "del")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ir.KindDeletePending, entries[0].Kind)
	assert.Equal(t, ir.KindDeleteSucceeded, entries[1].Kind)

	empty, err := j.EntriesForRequest(ctx, "session-1", "nothing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestLatestSessionEmptyJournal(t *testing.T) {
	j := createTestJournal(t)
	_, err := j.LatestSession(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = j.SessionSchema(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionSchemaRoundTrip(t *testing.T) {
	j := createTestJournal(t)
	record(t, j)

	s, err := j.SessionSchema(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, testutil.BlogSchema().String(), s.String())
}

func TestAppendIsIdempotent(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.BeginSession(ctx, "s", testutil.BlogSchema()))
	require.NoError(t, j.BeginSession(ctx, "s", testutil.BlogSchema()))

	e := Entry{Session: "s", Seq: 1, Kind: ir.KindUpdatePending, ResourceType: "articles", RequestKey: "k", StateDigest: "d"}
	require.NoError(t, j.Append(ctx, e))
	require.NoError(t, j.Append(ctx, e))

	entries, err := j.Entries(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppendUnknownSessionFails(t *testing.T) {
	j := createTestJournal(t)
	err := j.Append(context.Background(), Entry{Session: "ghost", Seq: 1, Kind: ir.KindUpdatePending, StateDigest: "d"})
	assert.Error(t, err, "foreign key enforced")
}
