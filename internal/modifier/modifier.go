// Package modifier applies validated create/modify/delete actions to the
// working tree. It performs a fail-fast writability pre-check over every
// target directory before the first byte is written; the per-file writes
// that follow are not transactional against each other.
package modifier

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"modguard/internal/change"
)

// FileResult records the outcome of one request in a batch.
type FileResult struct {
	Path    string        `json:"path"`
	Action  change.Action `json:"action"`
	Applied bool          `json:"applied"`
	Error   string        `json:"error,omitempty"`
}

// Modifier writes batches under one project root.
type Modifier struct {
	root string
	log  *zap.Logger
}

// New builds a modifier rooted at the project directory.
func New(root string, log *zap.Logger) *Modifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Modifier{root: root, log: log}
}

// PrecheckWritable verifies write permission on every target directory and
// returns an error before anything is written if any is not writable. For
// paths whose directories do not exist yet, the deepest existing ancestor is
// probed instead, since that is where MkdirAll will have to write.
func (m *Modifier) PrecheckWritable(reqs []change.Request) error {
	probed := make(map[string]bool)
	for _, req := range reqs {
		dir := filepath.Dir(filepath.Join(m.root, filepath.FromSlash(req.Path)))
		dir = deepestExisting(dir)
		if probed[dir] {
			continue
		}
		probed[dir] = true

		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("target directory for %s: %w", req.Path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("target directory for %s: %s is not a directory", req.Path, dir)
		}
		probe, err := os.CreateTemp(dir, ".modguard-probe-*")
		if err != nil {
			return fmt.Errorf("target directory for %s is not writable: %w", req.Path, err)
		}
		probe.Close()
		os.Remove(probe.Name())
	}
	return nil
}

// Apply runs every request to completion. A per-file I/O failure is recorded
// in its result but does not stop sibling files in the same batch.
func (m *Modifier) Apply(reqs []change.Request) []FileResult {
	results := make([]FileResult, 0, len(reqs))
	for _, req := range reqs {
		res := FileResult{Path: req.Path, Action: req.Action}
		if err := m.applyOne(req); err != nil {
			res.Error = err.Error()
			m.log.Error("apply failed",
				zap.String("path", req.Path), zap.String("action", string(req.Action)), zap.Error(err))
		} else {
			res.Applied = true
		}
		results = append(results, res)
	}
	return results
}

func (m *Modifier) applyOne(req change.Request) error {
	full := filepath.Join(m.root, filepath.FromSlash(req.Path))
	switch req.Action {
	case change.ActionCreate, change.ActionModify:
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		return os.WriteFile(full, []byte(req.Content), 0644)
	case change.ActionDelete:
		// Deleting a file that is already gone is a no-op, not an error.
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
}

// deepestExisting walks up until it finds a directory that exists.
func deepestExisting(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
