package journal

import (
	"path/filepath"
	"testing"
)

// createTestJournal opens a journal in a temp dir, closed on cleanup.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}
