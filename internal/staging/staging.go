// Package staging holds validated changes back from the working tree while
// deferred mode is active. Changes accumulate last-write-wins per path and
// are written in one batch when the area is flushed.
package staging

import (
	"errors"

	"go.uber.org/zap"

	"modguard/internal/change"
)

// ErrNotActive is returned when staging is attempted outside deferred mode.
var ErrNotActive = errors.New("deferred mode is not active")

// Staged is one pending change plus the snapshot that already covers it.
type Staged struct {
	Request    change.Request `json:"request"`
	SnapshotID string         `json:"snapshot_id"`
}

// Area is the in-memory deferred buffer. Not safe for concurrent use; the
// engine serializes access.
type Area struct {
	active  bool
	order   []string
	pending map[string]Staged
	restart bool
	log     *zap.Logger
}

// New builds an inactive staging area.
func New(log *zap.Logger) *Area {
	if log == nil {
		log = zap.NewNop()
	}
	return &Area{pending: make(map[string]Staged), log: log}
}

// Active reports whether deferred mode is on.
func (a *Area) Active() bool {
	return a.active
}

// Enable turns deferred mode on. Enabling an already-active area is a no-op
// that keeps whatever is staged.
func (a *Area) Enable() {
	if !a.active {
		a.active = true
		a.log.Info("deferred mode enabled")
	}
}

// Disable turns deferred mode off and discards everything staged without
// applying it.
func (a *Area) Disable() int {
	dropped := len(a.pending)
	a.active = false
	a.order = nil
	a.pending = make(map[string]Staged)
	a.restart = false
	if dropped > 0 {
		a.log.Warn("deferred mode disabled, staged changes discarded", zap.Int("dropped", dropped))
	} else {
		a.log.Info("deferred mode disabled")
	}
	return dropped
}

// Stage buffers one validated change. A second stage for the same path
// replaces the earlier content but keeps the path's original position in
// the flush order.
func (a *Area) Stage(req change.Request, snapshotID string) error {
	if !a.active {
		return ErrNotActive
	}
	if _, seen := a.pending[req.Path]; !seen {
		a.order = append(a.order, req.Path)
	}
	a.pending[req.Path] = Staged{Request: req, SnapshotID: snapshotID}
	a.log.Debug("change staged", zap.String("path", req.Path), zap.String("action", string(req.Action)))
	return nil
}

// StageRestart records that a restart was requested while deferred; it fires
// after the flush instead of immediately.
func (a *Area) StageRestart() error {
	if !a.active {
		return ErrNotActive
	}
	a.restart = true
	return nil
}

// RestartStaged reports whether a restart is pending behind the flush.
func (a *Area) RestartStaged() bool {
	return a.restart
}

// Len returns the number of distinct paths staged.
func (a *Area) Len() int {
	return len(a.pending)
}

// Pending returns the staged changes in flush order without draining them.
func (a *Area) Pending() []Staged {
	out := make([]Staged, 0, len(a.order))
	for _, p := range a.order {
		out = append(out, a.pending[p])
	}
	return out
}

// Drain returns everything staged in flush order and empties the area,
// leaving deferred mode active. The restart flag is returned and cleared
// with the batch.
func (a *Area) Drain() (staged []Staged, restart bool) {
	staged = a.Pending()
	restart = a.restart
	a.order = nil
	a.pending = make(map[string]Staged)
	a.restart = false
	return staged, restart
}
