// internal/database/db.go
package database

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Database wraps the SQLite connection backing snapshots and the audit log.
type Database struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema.
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		file_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		is_known_good INTEGER NOT NULL DEFAULT 0,
		triggered_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshot_files (
		snapshot_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		content BLOB NOT NULL,
		size INTEGER NOT NULL,
		PRIMARY KEY (snapshot_id, file_path),
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id)
	);

	CREATE TABLE IF NOT EXISTS modification_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id TEXT,
		requested_by TEXT NOT NULL,
		user_id TEXT,
		action TEXT NOT NULL,
		target_file TEXT,
		description TEXT NOT NULL DEFAULT '',
		validation_result TEXT NOT NULL DEFAULT 'skipped',
		applied INTEGER NOT NULL DEFAULT 0,
		rolled_back INTEGER NOT NULL DEFAULT 0,
		staged INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_status ON snapshots(status);
	CREATE INDEX IF NOT EXISTS idx_snapshots_known_good ON snapshots(is_known_good, created_at);
	CREATE INDEX IF NOT EXISTS idx_modification_log_snapshot ON modification_log(snapshot_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies datastore reachability with a trivial query.
func (d *Database) Ping() error {
	var one int
	return d.db.QueryRow("SELECT 1").Scan(&one)
}

// ===== Snapshots =====

// InsertSnapshot stores a new snapshot row.
func (d *Database) InsertSnapshot(s *Snapshot) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Status == "" {
		s.Status = SnapshotActive
	}
	_, err := d.db.Exec(`
		INSERT INTO snapshots (id, reason, file_count, status, is_known_good, triggered_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Reason, s.FileCount, s.Status, s.IsKnownGood, s.TriggeredBy, s.CreatedAt.Unix())
	return err
}

// GetSnapshot retrieves a snapshot by ID.
func (d *Database) GetSnapshot(id string) (*Snapshot, error) {
	row := d.db.QueryRow(`
		SELECT id, reason, file_count, status, is_known_good, triggered_by, created_at
		FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

// UpdateSnapshotStatus changes a snapshot's disposition.
func (d *Database) UpdateSnapshotStatus(id, status string) error {
	_, err := d.db.Exec(`UPDATE snapshots SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateSnapshotFileCount records how many files were actually captured.
func (d *Database) UpdateSnapshotFileCount(id string, count int) error {
	_, err := d.db.Exec(`UPDATE snapshots SET file_count = ? WHERE id = ?`, count, id)
	return err
}

// MarkSnapshotKnownGood flips the known-good flag.
func (d *Database) MarkSnapshotKnownGood(id string, good bool) error {
	_, err := d.db.Exec(`UPDATE snapshots SET is_known_good = ? WHERE id = ?`, good, id)
	return err
}

// LatestKnownGood returns the most recent known-good snapshot, or
// sql.ErrNoRows when none exists.
func (d *Database) LatestKnownGood() (*Snapshot, error) {
	row := d.db.QueryRow(`
		SELECT id, reason, file_count, status, is_known_good, triggered_by, created_at
		FROM snapshots WHERE is_known_good = 1
		ORDER BY created_at DESC, id DESC LIMIT 1`)
	return scanSnapshot(row)
}

// ListCheckpoints returns all checkpoint snapshots, newest first.
func (d *Database) ListCheckpoints() ([]*Snapshot, error) {
	rows, err := d.db.Query(`
		SELECT id, reason, file_count, status, is_known_good, triggered_by, created_at
		FROM snapshots WHERE reason LIKE ?
		ORDER BY created_at DESC, id DESC`, CheckpointPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		s, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// SupersedeActiveBefore marks active, non-checkpoint snapshots older than the
// cutoff as superseded. Returns the number of rows affected.
func (d *Database) SupersedeActiveBefore(cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(`
		UPDATE snapshots SET status = ?
		WHERE status = ? AND created_at < ? AND reason NOT LIKE ?`,
		SnapshotSuperseded, SnapshotActive, cutoff.Unix(), CheckpointPrefix+"%")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneSupersededBefore deletes superseded snapshots (and their files) older
// than the cutoff. Checkpoints are never pruned here.
func (d *Database) PruneSupersededBefore(cutoff time.Time) (int64, error) {
	rows, err := d.db.Query(`
		SELECT id FROM snapshots
		WHERE status = ? AND created_at < ? AND reason NOT LIKE ?`,
		SnapshotSuperseded, cutoff.Unix(), CheckpointPrefix+"%")
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var pruned int64
	for _, id := range ids {
		if _, err := d.db.Exec(`DELETE FROM snapshot_files WHERE snapshot_id = ?`, id); err != nil {
			return pruned, err
		}
		if _, err := d.db.Exec(`DELETE FROM snapshots WHERE id = ?`, id); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// ===== Snapshot files =====

// InsertSnapshotFile stores one captured file. Rows are immutable once
// written.
func (d *Database) InsertSnapshotFile(f *SnapshotFile) error {
	_, err := d.db.Exec(`
		INSERT INTO snapshot_files (snapshot_id, file_path, content_hash, content, size)
		VALUES (?, ?, ?, ?, ?)`,
		f.SnapshotID, f.FilePath, f.ContentHash, f.Content, f.Size)
	return err
}

// GetSnapshotFiles retrieves all captured files for a snapshot.
func (d *Database) GetSnapshotFiles(snapshotID string) ([]*SnapshotFile, error) {
	rows, err := d.db.Query(`
		SELECT snapshot_id, file_path, content_hash, content, size
		FROM snapshot_files WHERE snapshot_id = ? ORDER BY file_path`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*SnapshotFile
	for rows.Next() {
		f := &SnapshotFile{}
		if err := rows.Scan(&f.SnapshotID, &f.FilePath, &f.ContentHash, &f.Content, &f.Size); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ===== Modification log =====

// AppendLog appends one audit trail entry.
func (d *Database) AppendLog(e *LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := d.db.Exec(`
		INSERT INTO modification_log
		(snapshot_id, requested_by, user_id, action, target_file, description,
		 validation_result, applied, rolled_back, staged, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(e.SnapshotID), e.RequestedBy, nullable(e.UserID), e.Action,
		nullable(e.TargetFile), e.Description, e.ValidationResult,
		e.Applied, e.RolledBack, e.Staged, nullable(e.ErrorMessage), e.CreatedAt.Unix())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil {
		e.ID = id
	}
	return nil
}

// MarkRolledBack flags every applied entry of a snapshot as rolled back.
func (d *Database) MarkRolledBack(snapshotID string) error {
	_, err := d.db.Exec(`
		UPDATE modification_log SET rolled_back = 1
		WHERE snapshot_id = ? AND applied = 1`, snapshotID)
	return err
}

// MarkStagedApplied converts in-flight staged annotations into applied
// entries, called after a deferred flush lands on disk. The staged rows ARE
// the audit record of those changes; leaving them unapplied would log a
// flushed change as never having happened.
func (d *Database) MarkStagedApplied() error {
	_, err := d.db.Exec(`UPDATE modification_log SET staged = 0, applied = 1 WHERE staged = 1`)
	return err
}

// RecentLog returns the newest audit entries, newest first.
func (d *Database) RecentLog(limit int) ([]*LogEntry, error) {
	rows, err := d.db.Query(`
		SELECT id, snapshot_id, requested_by, user_id, action, target_file,
		       description, validation_result, applied, rolled_back, staged,
		       error_message, created_at
		FROM modification_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		var snapID, userID, target, errMsg sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &snapID, &e.RequestedBy, &userID, &e.Action,
			&target, &e.Description, &e.ValidationResult, &e.Applied,
			&e.RolledBack, &e.Staged, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		e.SnapshotID = snapID.String
		e.UserID = userID.String
		e.TargetFile = target.String
		e.ErrorMessage = errMsg.String
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ===== Helpers =====

func nullable(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	s := &Snapshot{}
	var createdAt int64
	err := row.Scan(&s.ID, &s.Reason, &s.FileCount, &s.Status, &s.IsKnownGood, &s.TriggeredBy, &createdAt)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	return s, nil
}

func scanSnapshotRows(rows *sql.Rows) (*Snapshot, error) {
	s := &Snapshot{}
	var createdAt int64
	err := rows.Scan(&s.ID, &s.Reason, &s.FileCount, &s.Status, &s.IsKnownGood, &s.TriggeredBy, &createdAt)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	return s, nil
}
