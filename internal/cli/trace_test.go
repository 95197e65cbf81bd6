package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSession runs the passing scenario into a fresh journal.
func recordSession(t *testing.T, session string) string {
	t.Helper()
	dir := t.TempDir()
	path := writeFile(t, dir, "list.yaml", passingScenario)
	dbPath := filepath.Join(dir, "restcache.db")

	_, err := executeRun(t, &RootOptions{Format: "text"}, path, "--journal", dbPath, "--session", session)
	require.NoError(t, err)
	return dbPath
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTrace_LatestSessionText(t *testing.T) {
	dbPath := recordSession(t, "trace-1")

	out, err := executeTrace(t, "text", "--journal", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Session: trace-1")
	assert.Contains(t, out, "UPDATE_PENDING")
	assert.Contains(t, out, "UPDATE_SUCCEEDED")
	assert.Contains(t, out, "[a1]")
	assert.Contains(t, out, "2 transitions, 1 requests, 0 failures")
}

func TestTrace_JSON(t *testing.T) {
	dbPath := recordSession(t, "trace-json")

	out, err := executeTrace(t, "json", "--journal", dbPath, "--session", "trace-json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "trace-json", resp.Data.Session)
	require.Len(t, resp.Data.Timeline, 2)

	first, second := resp.Data.Timeline[0], resp.Data.Timeline[1]
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, "UPDATE_PENDING", first.Kind)
	assert.Empty(t, first.IDs)
	assert.Equal(t, "UPDATE_SUCCEEDED", second.Kind)
	assert.Equal(t, []string{"a1"}, second.IDs)
	assert.Equal(t, []any{map[string]any{"id": "a1", "title": "First"}}, second.Payload)
	assert.NotEqual(t, first.StateDigest, second.StateDigest)
	assert.Equal(t, first.RequestKey, second.RequestKey)

	assert.Equal(t, 2, resp.Data.Stats.Transitions)
	assert.Equal(t, map[string]int{"UPDATE_PENDING": 1, "UPDATE_SUCCEEDED": 1}, resp.Data.Stats.ByKind)
}

func TestTrace_RequestFilter(t *testing.T) {
	dbPath := recordSession(t, "trace-filter")

	out, err := executeTrace(t, "json", "--journal", dbPath, "--request", "no-such-request")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Timeline)
}

func TestTrace_UnknownSession(t *testing.T) {
	dbPath := recordSession(t, "trace-2")

	out, err := executeTrace(t, "text", "--journal", dbPath, "--session", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "session not found")
}

func TestTrace_EmptyJournal(t *testing.T) {
	out, err := executeTrace(t, "text", "--journal", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found in journal.")
}

func TestTrace_JournalRequired(t *testing.T) {
	out, err := executeTrace(t, "text")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "RESTCACHE_JOURNAL")
}

func TestShortKey(t *testing.T) {
	assert.Equal(t, "list", shortKey("list"))
	hashed := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	assert.Equal(t, "0123456789ab", shortKey(hashed))
}
