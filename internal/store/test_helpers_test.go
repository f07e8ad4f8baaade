package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/henriblancke/dagster/internal/ir"
)

// testNow is the fixed store clock used by createTestStore.
var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing with a fixed
// clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run of job in the repository "repo" at location
// "loc", created at testNow.
func createTestRun(id, job string) ir.RunRecord {
	return ir.RunRecord{
		RunID:           id,
		JobName:         job,
		Status:          ir.RunStatusStarted,
		Origin:          &ir.RepositoryOrigin{Location: "loc", Repository: "repo"},
		CreateTimestamp: testNow,
		UpdateTimestamp: testNow,
	}
}
