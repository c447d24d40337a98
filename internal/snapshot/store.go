// Package snapshot captures pre-modification file state into the database
// and restores it verbatim on rollback. Nothing mutates the working tree
// without a recovery point here first.
package snapshot

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"modguard/internal/database"
)

// ErrNoKnownGood is returned when no known-good rollback target exists.
var ErrNoKnownGood = errors.New("no known-good snapshot available")

// captureConcurrency bounds parallel file reads during capture.
const captureConcurrency = 8

// Store owns snapshot capture and restore over one project root.
type Store struct {
	db           *database.Database
	root         string
	allowedRoots []string
	maxFileBytes int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder
	log     *zap.Logger
}

// NewStore builds a snapshot store. allowedRoots and maxFileBytes scope the
// full-project enumeration used by checkpoints.
func NewStore(db *database.Database, root string, allowedRoots []string, maxFileBytes int64, log *zap.Logger) (*Store, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:           db,
		root:         root,
		allowedRoots: allowedRoots,
		maxFileBytes: maxFileBytes,
		encoder:      encoder,
		decoder:      decoder,
		log:          log,
	}, nil
}

// Hash returns the sha256 hex digest of content.
func Hash(content []byte) string {
	h := sha256.Sum256(content)
	return fmt.Sprintf("%x", h)
}

// Create captures the current content of every listed path that exists on
// disk. Paths that do not exist yet (pending creates) are skipped. Returns
// the snapshot with FileCount set to the number actually captured.
func (s *Store) Create(paths []string, reason, triggeredBy string) (*database.Snapshot, error) {
	snap := &database.Snapshot{
		ID:          uuid.New().String(),
		Reason:      reason,
		Status:      database.SnapshotActive,
		TriggeredBy: triggeredBy,
	}
	if err := s.db.InsertSnapshot(snap); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	files, err := s.capture(snap.ID, dedupe(paths))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := s.db.InsertSnapshotFile(f); err != nil {
			return nil, fmt.Errorf("insert snapshot file %s: %w", f.FilePath, err)
		}
	}

	snap.FileCount = len(files)
	if err := s.db.UpdateSnapshotFileCount(snap.ID, snap.FileCount); err != nil {
		return nil, err
	}
	s.log.Info("snapshot created",
		zap.String("id", snap.ID), zap.String("reason", reason), zap.Int("files", snap.FileCount))
	return snap, nil
}

// capture reads and compresses files with bounded parallelism; inserts are
// done serially by the caller.
func (s *Store) capture(snapshotID string, paths []string) ([]*database.SnapshotFile, error) {
	var (
		mu    sync.Mutex
		files []*database.SnapshotFile
	)
	g := new(errgroup.Group)
	g.SetLimit(captureConcurrency)

	for _, rel := range paths {
		rel := rel
		g.Go(func() error {
			full := filepath.Join(s.root, filepath.FromSlash(rel))
			info, err := os.Stat(full)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return fmt.Errorf("capture %s: %w", rel, err)
			}
			// Only regular files have a capturable pre-state.
			if !info.Mode().IsRegular() {
				return nil
			}
			data, err := os.ReadFile(full)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return fmt.Errorf("capture %s: %w", rel, err)
			}
			f := &database.SnapshotFile{
				SnapshotID:  snapshotID,
				FilePath:    rel,
				ContentHash: Hash(data),
				Content:     s.encoder.EncodeAll(data, nil),
				Size:        int64(len(data)),
			}
			mu.Lock()
			files = append(files, f)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })
	return files, nil
}

// MarkKnownGood flags a snapshot as a verified rollback target.
func (s *Store) MarkKnownGood(id string) error {
	return s.db.MarkSnapshotKnownGood(id, true)
}

// Get returns a snapshot by id.
func (s *Store) Get(id string) (*database.Snapshot, error) {
	return s.db.GetSnapshot(id)
}

// Rollback overwrites every captured file with its snapshot content,
// creating parent directories as needed, then marks the snapshot rolled
// back. A restore failure is fatal: the error is returned with the count of
// files restored so far and no further automatic recovery is attempted.
func (s *Store) Rollback(id string) (int, error) {
	files, err := s.db.GetSnapshotFiles(id)
	if err != nil {
		return 0, fmt.Errorf("load snapshot files: %w", err)
	}

	restored := 0
	for _, f := range files {
		data, err := s.decoder.DecodeAll(f.Content, nil)
		if err != nil {
			return restored, fmt.Errorf("decompress %s: %w", f.FilePath, err)
		}
		full := filepath.Join(s.root, filepath.FromSlash(f.FilePath))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return restored, fmt.Errorf("restore %s: %w", f.FilePath, err)
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			return restored, fmt.Errorf("restore %s: %w", f.FilePath, err)
		}
		restored++
	}

	if err := s.db.UpdateSnapshotStatus(id, database.SnapshotRolledBack); err != nil {
		return restored, err
	}
	s.log.Warn("snapshot rolled back", zap.String("id", id), zap.Int("files", restored))
	return restored, nil
}

// RollbackToLastGood restores the most recent known-good snapshot. The
// recovery path of last resort.
func (s *Store) RollbackToLastGood() (*database.Snapshot, int, error) {
	snap, err := s.db.LatestKnownGood()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNoKnownGood
		}
		return nil, 0, err
	}
	restored, err := s.Rollback(snap.ID)
	return snap, restored, err
}

// SaveCheckpoint captures every file under the allowed roots below the size
// ceiling as a named, full-project snapshot, known-good at creation.
func (s *Store) SaveCheckpoint(name, triggeredBy string) (*database.Snapshot, error) {
	paths, err := s.enumerateProjectFiles()
	if err != nil {
		return nil, err
	}
	snap, err := s.Create(paths, database.CheckpointPrefix+name, triggeredBy)
	if err != nil {
		return nil, err
	}
	if err := s.MarkKnownGood(snap.ID); err != nil {
		return nil, err
	}
	snap.IsKnownGood = true
	return snap, nil
}

// ListCheckpoints returns all checkpoints, newest first.
func (s *Store) ListCheckpoints() ([]*database.Snapshot, error) {
	return s.db.ListCheckpoints()
}

// RollbackToCheckpoint restores a checkpoint (the latest when id is empty).
// The current state of every file in the checkpoint is captured into a
// safety snapshot first, so a bad checkpoint restore is itself reversible.
func (s *Store) RollbackToCheckpoint(id string) (cp *database.Snapshot, safetyID string, restored int, err error) {
	if id == "" {
		cps, err := s.db.ListCheckpoints()
		if err != nil {
			return nil, "", 0, err
		}
		if len(cps) == 0 {
			return nil, "", 0, fmt.Errorf("no checkpoints exist")
		}
		cp = cps[0]
	} else {
		cp, err = s.db.GetSnapshot(id)
		if err != nil {
			return nil, "", 0, fmt.Errorf("load checkpoint: %w", err)
		}
		if !cp.IsCheckpoint() {
			return nil, "", 0, fmt.Errorf("snapshot %s is not a checkpoint", id)
		}
	}

	files, err := s.db.GetSnapshotFiles(cp.ID)
	if err != nil {
		return nil, "", 0, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.FilePath)
	}

	safety, err := s.Create(paths, "pre-checkpoint-rollback:"+cp.ID, "rollback")
	if err != nil {
		return nil, "", 0, fmt.Errorf("safety snapshot: %w", err)
	}

	restored, err = s.Rollback(cp.ID)
	return cp, safety.ID, restored, err
}

// enumerateProjectFiles walks the allowed roots collecting regular files
// below the size ceiling. Hidden directories and dependency trees are
// skipped.
func (s *Store) enumerateProjectFiles() ([]string, error) {
	var paths []string
	for _, root := range s.allowedRoots {
		base := filepath.Join(s.root, filepath.FromSlash(root))
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipAll
				}
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if name == "node_modules" || (len(name) > 1 && name[0] == '.') {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.Size() > s.maxFileBytes {
				return nil
			}
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return nil
			}
			paths = append(paths, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", root, err)
		}
	}
	return paths, nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
