// internal/database/db_test.go
package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)

	snap := &Snapshot{ID: "snap-1", Reason: "pre-modification", TriggeredBy: "tester"}
	require.NoError(t, db.InsertSnapshot(snap))

	got, err := db.GetSnapshot("snap-1")
	require.NoError(t, err)
	assert.Equal(t, "pre-modification", got.Reason)
	assert.Equal(t, SnapshotActive, got.Status)
	assert.False(t, got.IsKnownGood)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, db.UpdateSnapshotStatus("snap-1", SnapshotRolledBack))
	got, err = db.GetSnapshot("snap-1")
	require.NoError(t, err)
	assert.Equal(t, SnapshotRolledBack, got.Status)
}

func TestSnapshotFiles(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "snap-1", Reason: "r"}))

	require.NoError(t, db.InsertSnapshotFile(&SnapshotFile{
		SnapshotID: "snap-1", FilePath: "src/b.ts", ContentHash: "hb", Content: []byte("bb"), Size: 2,
	}))
	require.NoError(t, db.InsertSnapshotFile(&SnapshotFile{
		SnapshotID: "snap-1", FilePath: "src/a.ts", ContentHash: "ha", Content: []byte("aa"), Size: 2,
	}))

	files, err := db.GetSnapshotFiles("snap-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	// Ordered by path.
	assert.Equal(t, "src/a.ts", files[0].FilePath)
	assert.Equal(t, []byte("bb"), files[1].Content)
}

func TestLatestKnownGood(t *testing.T) {
	db := openTestDB(t)

	_, err := db.LatestKnownGood()
	assert.ErrorIs(t, err, sql.ErrNoRows)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "old", Reason: "r", CreatedAt: base}))
	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "newer", Reason: "r", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, db.MarkSnapshotKnownGood("old", true))
	require.NoError(t, db.MarkSnapshotKnownGood("newer", true))

	got, err := db.LatestKnownGood()
	require.NoError(t, err)
	assert.Equal(t, "newer", got.ID)
}

func TestCheckpoints(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().Add(-time.Hour)

	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "plain", Reason: "pre-modification", CreatedAt: base}))
	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "cp1", Reason: CheckpointPrefix + "nightly", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "cp2", Reason: CheckpointPrefix + "release", CreatedAt: base.Add(2 * time.Minute)}))

	cps, err := db.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "cp2", cps[0].ID)
	assert.Equal(t, "release", cps[0].CheckpointName())
	assert.True(t, cps[0].IsCheckpoint())
}

func TestRetention(t *testing.T) {
	db := openTestDB(t)
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "stale", Reason: "pre-modification", CreatedAt: old}))
	require.NoError(t, db.InsertSnapshotFile(&SnapshotFile{
		SnapshotID: "stale", FilePath: "src/a.ts", ContentHash: "h", Content: []byte("x"), Size: 1,
	}))
	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "fresh", Reason: "pre-modification"}))
	require.NoError(t, db.InsertSnapshot(&Snapshot{ID: "cp", Reason: CheckpointPrefix + "keep", CreatedAt: old}))

	cutoff := time.Now().Add(-24 * time.Hour)
	n, err := db.SupersedeActiveBefore(cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Checkpoints and fresh snapshots survive.
	got, err := db.GetSnapshot("cp")
	require.NoError(t, err)
	assert.Equal(t, SnapshotActive, got.Status)

	pruned, err := db.PruneSupersededBefore(cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = db.GetSnapshot("stale")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	files, err := db.GetSnapshotFiles("stale")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestModificationLog(t *testing.T) {
	db := openTestDB(t)

	e1 := &LogEntry{
		SnapshotID: "snap-1", RequestedBy: "engine", Action: "modify",
		TargetFile: "src/a.ts", ValidationResult: ValidationPassed, Applied: true,
	}
	require.NoError(t, db.AppendLog(e1))
	assert.NotZero(t, e1.ID)

	require.NoError(t, db.AppendLog(&LogEntry{
		RequestedBy: "engine", Action: "create", TargetFile: "src/b.ts",
		ValidationResult: ValidationFailed, ErrorMessage: "too large",
	}))

	entries, err := db.RecentLog(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "src/b.ts", entries[0].TargetFile)
	assert.Equal(t, "too large", entries[0].ErrorMessage)
	assert.Equal(t, "snap-1", entries[1].SnapshotID)

	require.NoError(t, db.MarkRolledBack("snap-1"))
	entries, err = db.RecentLog(10)
	require.NoError(t, err)
	assert.True(t, entries[1].RolledBack)
}

func TestMarkStagedApplied(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.AppendLog(&LogEntry{
		RequestedBy: "engine", Action: "modify", TargetFile: "src/a.ts",
		ValidationResult: ValidationPassed, Staged: true,
	}))
	require.NoError(t, db.AppendLog(&LogEntry{
		RequestedBy: "engine", Action: "create", TargetFile: "src/b.ts",
		ValidationResult: ValidationFailed,
	}))
	require.NoError(t, db.MarkStagedApplied())

	entries, err := db.RecentLog(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// The flushed row is now the applied record of the change.
	assert.False(t, entries[1].Staged)
	assert.True(t, entries[1].Applied)
	// Rows that were never staged are untouched.
	assert.False(t, entries[0].Applied)
}

func TestPing(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Ping())
}
