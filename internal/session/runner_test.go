package session

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gwatchdev/gwatch/internal/gitdiff"
	"github.com/gwatchdev/gwatch/internal/review"
	"github.com/gwatchdev/gwatch/internal/watcher"
)

// pipeline is a fully wired Runner over a real git repository and
// filesystem watcher.
type pipeline struct {
	dir    string
	runner *Runner
	cancel context.CancelFunc
	done   chan error

	mu    sync.Mutex
	snaps []Snapshot
}

func startPipeline(t *testing.T, quiet time.Duration) *pipeline {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	gitInit(t, dir)
	writeRepoFile(t, dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n")
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-q", "-m", "initial commit")

	logger := log.New(os.Stderr, "", 0)

	engine, err := gitdiff.NewEngine(dir, logger)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	store, err := review.Open(filepath.Join(t.TempDir(), "review.db"), logger)
	if err != nil {
		t.Fatalf("failed to open review store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	filter := watcher.NewPathFilter(dir, nil, logger)
	w, err := watcher.New(dir, filter, logger)
	if err != nil {
		t.Fatalf("watcher.New failed: %v", err)
	}

	p := &pipeline{dir: dir, done: make(chan error, 1)}

	p.runner = NewRunner(RunnerConfig{
		Watcher:  w,
		Debounce: watcher.NewDebouncer(quiet, 300, logger),
		Engine:   engine,
		Session:  New(Config{Review: store, Logger: logger}),
		Logger:   logger,
	})
	p.runner.OnUpdate = func(s Snapshot) {
		p.mu.Lock()
		p.snaps = append(p.snaps, s)
		p.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() { p.done <- p.runner.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			t.Error("runner did not stop")
		}
	})

	// Let the watch registration settle before the test writes files.
	time.Sleep(100 * time.Millisecond)
	return p
}

func gitInit(t *testing.T, dir string) {
	t.Helper()
	gitRun(t, dir, "init", "-q")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "Test User")
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func writeRepoFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// waitForReady polls until path has a Ready diff, returning its
// snapshot.
func (p *pipeline) waitForReady(t *testing.T, path string) FileSnapshot {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range p.runner.Session().Snapshot().Files {
			if f.Path == path && f.State == StateReady {
				return f
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for ready diff of %s", path)
	return FileSnapshot{}
}

// TestRunner_WriteProducesDiff verifies the full path from file write to
// published diff.
func TestRunner_WriteProducesDiff(t *testing.T) {
	p := startPipeline(t, 50*time.Millisecond)

	path := writeRepoFile(t, p.dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"changed\")\n}\n")

	f := p.waitForReady(t, path)
	if f.Diff == nil || len(f.Diff.Hunks) != 1 {
		t.Fatalf("diff = %+v, want one hunk", f.Diff)
	}
	if f.Diff.Stats.Added != 1 || f.Diff.Stats.Removed != 1 {
		t.Errorf("stats = +%d/-%d, want +1/-1", f.Diff.Stats.Added, f.Diff.Stats.Removed)
	}

	history := p.runner.Session().Snapshot().History
	if len(history) == 0 {
		t.Fatal("no history entry recorded")
	}
	if history[0].RelPath != "main.go" {
		t.Errorf("history rel path = %q, want main.go", history[0].RelPath)
	}

	p.mu.Lock()
	updates := len(p.snaps)
	p.mu.Unlock()
	if updates == 0 {
		t.Error("OnUpdate never fired")
	}
}

// TestRunner_BurstYieldsLatestContent verifies rapid successive writes
// produce a single diff reflecting the last write.
func TestRunner_BurstYieldsLatestContent(t *testing.T) {
	p := startPipeline(t, 80*time.Millisecond)

	path := filepath.Join(p.dir, "main.go")
	writeRepoFile(t, p.dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"first\")\n}\n")
	time.Sleep(20 * time.Millisecond)
	writeRepoFile(t, p.dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"second\")\n}\n")

	f := p.waitForReady(t, path)

	var added []string
	for _, h := range f.Diff.Hunks {
		for _, l := range h.Lines {
			if l.Kind == gitdiff.LineAdded {
				added = append(added, l.Content)
			}
		}
	}
	if len(added) != 1 {
		t.Fatalf("added lines = %v, want exactly one", added)
	}
	if got := added[0]; got != "\tprintln(\"second\")\n" && got != "\tprintln(\"second\")" {
		t.Errorf("added line = %q, want the second write", got)
	}
}

// TestRunner_UntrackedRemovalDropsRecord verifies that deleting a file
// git never knew about removes its record instead of leaving an empty
// result behind.
func TestRunner_UntrackedRemovalDropsRecord(t *testing.T) {
	p := startPipeline(t, 30*time.Millisecond)

	path := writeRepoFile(t, p.dir, "scratch.txt", "temporary note\n")
	f := p.waitForReady(t, path)
	if f.Diff == nil || !f.Diff.NewFile {
		t.Fatalf("diff = %+v, want a new-file diff", f.Diff)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove %s: %v", path, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		present := false
		for _, f := range p.runner.Session().Snapshot().Files {
			if f.Path == path {
				present = true
			}
		}
		if !present {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("record for %s still present after removal", path)
}

// TestRunner_PauseDefersUntilResume verifies requests arriving while
// paused are computed only after resume.
func TestRunner_PauseDefersUntilResume(t *testing.T) {
	p := startPipeline(t, 30*time.Millisecond)
	ctx := context.Background()

	if !p.runner.TogglePause(ctx) {
		t.Fatal("TogglePause did not pause")
	}

	path := writeRepoFile(t, p.dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"paused edit\")\n}\n")

	// The request settles into history, but no diff is computed.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(p.runner.Session().Snapshot().History) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	for _, f := range p.runner.Session().Snapshot().Files {
		if f.Path == path && f.State == StateReady {
			t.Fatal("diff computed while paused")
		}
	}

	p.runner.TogglePause(ctx)
	f := p.waitForReady(t, path)
	if f.Diff == nil {
		t.Fatal("no diff after resume")
	}
}

// TestRunner_CycleModeMarksStale verifies a mode switch leaves previous
// results visible but stale.
func TestRunner_CycleModeMarksStale(t *testing.T) {
	p := startPipeline(t, 30*time.Millisecond)

	path := writeRepoFile(t, p.dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"edit\")\n}\n")
	p.waitForReady(t, path)

	if got := p.runner.CycleMode(); got != gitdiff.ModeUnstaged {
		t.Fatalf("mode = %v, want ModeUnstaged", got)
	}

	for _, f := range p.runner.Session().Snapshot().Files {
		if f.Path == path {
			if !f.Stale {
				t.Error("previous result not stale after mode switch")
			}
			if f.Diff == nil {
				t.Error("stale result lost its diff")
			}
		}
	}
}
