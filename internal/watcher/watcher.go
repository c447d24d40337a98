// Package watcher reacts to the dev-mode restart trigger file. It watches
// the trigger's directory with fsnotify, debounces the burst of events a
// single touch produces, and invokes the restart callback once per trigger.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Trigger describes one debounced firing of the restart trigger.
type Trigger struct {
	Path string
	At   time.Time
}

// Watcher watches a single trigger file, debounced.
type Watcher struct {
	triggerPath string
	debounce    time.Duration
	callback    func(Trigger)
	fsw         *fsnotify.Watcher
	log         *zap.Logger

	done    chan struct{}
	started bool
	closed  bool
	mu      sync.Mutex

	timer   *time.Timer
	timerMu sync.Mutex
}

// New builds a watcher for the given trigger file. The file itself need not
// exist yet; its parent directory must.
func New(triggerPath string, debounce time.Duration, callback func(Trigger), log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(triggerPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(triggerPath), err)
	}
	return &Watcher{
		triggerPath: triggerPath,
		debounce:    debounce,
		callback:    callback,
		fsw:         fsw,
		log:         log,
		done:        make(chan struct{}),
	}, nil
}

// Start begins delivering debounced trigger callbacks.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	go w.loop()
	return nil
}

// Close stops the watcher and cancels any pending debounce.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.started {
		close(w.done)
	}
	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// handle filters for create/write on the trigger file and debounces. A
// touch typically produces a create immediately followed by a write; the
// debounce collapses them into one callback.
func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.triggerPath) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.timerMu.Lock()
		w.timer = nil
		w.timerMu.Unlock()
		w.log.Info("restart trigger fired", zap.String("path", w.triggerPath))
		w.callback(Trigger{Path: w.triggerPath, At: time.Now()})
	})
}
