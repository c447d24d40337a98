// internal/database/models.go
package database

import "time"

// Snapshot statuses.
const (
	SnapshotActive     = "active"
	SnapshotRolledBack = "rolled_back"
	SnapshotSuperseded = "superseded"
)

// Validation results recorded on log entries.
const (
	ValidationPassed  = "passed"
	ValidationFailed  = "failed"
	ValidationSkipped = "skipped"
)

// CheckpointPrefix tags the reason of full-project checkpoint snapshots.
const CheckpointPrefix = "checkpoint:"

// Snapshot is the durable record of a pre-modification capture. Immutable
// after creation except for Status and IsKnownGood.
type Snapshot struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason"`
	FileCount   int       `json:"file_count"`
	Status      string    `json:"status"`
	IsKnownGood bool      `json:"is_known_good"`
	TriggeredBy string    `json:"triggered_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsCheckpoint reports whether this snapshot is a named full-project capture.
func (s *Snapshot) IsCheckpoint() bool {
	return len(s.Reason) > len(CheckpointPrefix) && s.Reason[:len(CheckpointPrefix)] == CheckpointPrefix
}

// CheckpointName returns the name portion of a checkpoint reason.
func (s *Snapshot) CheckpointName() string {
	if !s.IsCheckpoint() {
		return ""
	}
	return s.Reason[len(CheckpointPrefix):]
}

// SnapshotFile is one captured file. Content is zstd-compressed on insert
// and transparently decompressed by the snapshot store, never by callers.
type SnapshotFile struct {
	SnapshotID  string `json:"snapshot_id"`
	FilePath    string `json:"file_path"`
	ContentHash string `json:"content_hash"`
	Content     []byte `json:"-"`
	Size        int64  `json:"size"`
}

// LogEntry is one row of the append-only modification audit trail.
type LogEntry struct {
	ID               int64     `json:"id"`
	SnapshotID       string    `json:"snapshot_id,omitempty"`
	RequestedBy      string    `json:"requested_by"`
	UserID           string    `json:"user_id,omitempty"`
	Action           string    `json:"action"`
	TargetFile       string    `json:"target_file,omitempty"`
	Description      string    `json:"description"`
	ValidationResult string    `json:"validation_result"`
	Applied          bool      `json:"applied"`
	RolledBack       bool      `json:"rolled_back"`
	Staged           bool      `json:"staged"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
