package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string, patterns []string) *Watcher {
	t.Helper()

	w, err := New(root, NewPathFilter(root, patterns, testLogger()), testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	// Give the OS watch registration a moment to settle.
	time.Sleep(50 * time.Millisecond)
	return w
}

// waitForEvent waits for an event on path with the given op.
func waitForEvent(t *testing.T, w *Watcher, path string, op EventOp) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("event channel closed while waiting")
			}
			if ev.Path == path && ev.Op == op {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v on %s", op, path)
		}
	}
}

// TestWatcher_StartStop verifies lifecycle state and channel closure.
func TestWatcher_StartStop(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, NewPathFilter(root, nil, testLogger()), testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if w.IsRunning() {
		t.Error("running before Start")
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !w.IsRunning() {
		t.Error("not running after Start")
	}
	if err := w.Start(); err == nil {
		t.Error("second Start did not fail")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("still running after Stop")
	}
	if _, ok := <-w.Events(); ok {
		t.Error("event channel not closed after Stop")
	}
}

// TestWatcher_FileCreate verifies a new file produces a create event.
func TestWatcher_FileCreate(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)

	path := filepath.Join(root, "new.go")
	if err := os.WriteFile(path, []byte("package new\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	waitForEvent(t, w, path, OpCreate)
}

// TestWatcher_FileModify verifies writing an existing file produces a
// modify event.
func TestWatcher_FileModify(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	if err := os.WriteFile(path, []byte("v1\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	w := startWatcher(t, root, nil)

	if err := os.WriteFile(path, []byte("v2\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite file: %v", err)
	}

	waitForEvent(t, w, path, OpModify)
}

// TestWatcher_FileRemove verifies deletion produces a remove event.
func TestWatcher_FileRemove(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	if err := os.WriteFile(path, []byte("v1\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	w := startWatcher(t, root, nil)

	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}

	waitForEvent(t, w, path, OpRemove)
}

// TestWatcher_IgnoredPathSilent verifies events under ignored paths are
// filtered out while others still flow.
func TestWatcher_IgnoredPathSilent(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, []string{"*.log"})

	ignored := filepath.Join(root, "noise.log")
	if err := os.WriteFile(ignored, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("failed to write ignored file: %v", err)
	}
	wanted := filepath.Join(root, "kept.go")
	if err := os.WriteFile(wanted, []byte("package kept\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	ev := waitForEvent(t, w, wanted, OpCreate)
	if ev.Path == ignored {
		t.Errorf("ignored path %s leaked through", ignored)
	}
}

// TestWatcher_OverflowKeepsNewest verifies a full event buffer drops
// the oldest events, never the most recent observation.
func TestWatcher_OverflowKeepsNewest(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)

	// Write more files than the event buffer holds without consuming.
	var last string
	for i := 0; i < 150; i++ {
		last = filepath.Join(root, fmt.Sprintf("f%03d.txt", i))
		if err := os.WriteFile(last, []byte("x\n"), 0o644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}

	// Let every notification reach the overflowing buffer.
	time.Sleep(500 * time.Millisecond)

	waitForEvent(t, w, last, OpCreate)
}

// TestWatcher_NewDirectoryWatched verifies files created inside a
// directory that appeared after Start are still observed.
func TestWatcher_NewDirectoryWatched(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}

	// Let the watch for the new directory be registered before writing
	// into it.
	time.Sleep(100 * time.Millisecond)

	inner := filepath.Join(sub, "inner.go")
	if err := os.WriteFile(inner, []byte("package sub\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	waitForEvent(t, w, inner, OpCreate)
}

// TestWatcher_ExistingSubdirectoryWatched verifies the initial walk
// registers nested directories.
func TestWatcher_ExistingSubdirectoryWatched(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "pkg", "deep")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("failed to create directories: %v", err)
	}

	w := startWatcher(t, root, nil)

	inner := filepath.Join(sub, "deep.go")
	if err := os.WriteFile(inner, []byte("package deep\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	waitForEvent(t, w, inner, OpCreate)
}
