// internal/watcher/watcher_test.go
package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherFiresOnTrigger(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "restart.trigger")

	var fired atomic.Int32
	w, err := New(trigger, 50*time.Millisecond, func(tr Trigger) {
		fired.Add(1)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(trigger, []byte("now"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("callback never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcherDebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "restart.trigger")

	var fired atomic.Int32
	w, err := New(trigger, 200*time.Millisecond, func(tr Trigger) {
		fired.Add(1)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	// A rapid burst of writes collapses into one callback.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(trigger, []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(600 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected 1 debounced callback, got %d", got)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "restart.trigger")

	var fired atomic.Int32
	w, err := New(trigger, 50*time.Millisecond, func(tr Trigger) {
		fired.Add(1)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("callback fired for unrelated file")
	}
}

func TestWatcherLifecycle(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "restart.trigger")

	w, err := New(trigger, 50*time.Millisecond, func(Trigger) {}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err == nil {
		t.Error("double start should fail")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("start after close should fail")
	}

	if _, err := New(filepath.Join(dir, "missing", "sub", "file"), time.Second, func(Trigger) {}, nil); err == nil {
		t.Error("watching a missing directory should fail")
	}
}
