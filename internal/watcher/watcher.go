// Package watcher turns raw filesystem notifications into a debounced
// stream of per-path diff requests for a watched git working tree.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpRemove indicates a file was deleted or renamed away.
	OpRemove
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a single observed change to a watched path, after ignore
// filtering and duplicate coalescing.
type Event struct {
	// Path is the absolute path to the file that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
	// At is when the event was observed.
	At time.Time
}

// ErrWatchFatal is surfaced on the Errors channel when the watched root
// becomes inaccessible. It ends the watch session; the event stream
// never silently stops.
var ErrWatchFatal = errors.New("watched root is no longer accessible")

// dedupWindow is the observation tick within which identical operations
// on the same path are treated as one logical event. Editors and
// filesystems commonly emit several notifications per save.
const dedupWindow = 10 * time.Millisecond

// Watcher streams filtered file change events for a directory tree.
// It uses fsnotify for cross-platform notification and registers every
// non-ignored subdirectory, since fsnotify watches are not recursive.
type Watcher struct {
	root   string
	filter *PathFilter
	logger *log.Logger

	fsw    *fsnotify.Watcher
	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	lastSeen map[string]seen
}

type seen struct {
	op EventOp
	at time.Time
}

// New creates a Watcher for the tree rooted at root. Events are emitted
// only after Start.
func New(root string, filter *PathFilter, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:     root,
		filter:   filter,
		logger:   logger,
		fsw:      fsw,
		events:   make(chan Event, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		lastSeen: make(map[string]seen),
	}, nil
}

// Start registers watches for the root and every non-ignored
// subdirectory, then begins emitting events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.filter.Ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch root %s: %w", w.root, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop ends watching and closes the event and error channels. It blocks
// until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of filtered change events. It is closed
// when the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors. A fatal error wrapping
// ErrWatchFatal means the stream has ended.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// The root disappearing is fatal, not a file change.
	if event.Name == w.root && event.Has(fsnotify.Remove|fsnotify.Rename) {
		w.sendError(fmt.Errorf("%w: %s removed", ErrWatchFatal, w.root))
		return
	}

	ev, ok := w.convertEvent(event)
	if !ok {
		return
	}

	// Newly created directories need their own watch; files inside them
	// would otherwise go unnoticed.
	if ev.Op == OpCreate {
		if info, err := os.Stat(ev.Path); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Path); err != nil {
				w.logger.Printf("Failed to watch new directory %s: %v", ev.Path, err)
			}
			return
		}
	}

	if !w.shouldEmit(ev) {
		return
	}

	select {
	case w.events <- ev:
	case <-w.done:
	default:
		// Bounded channel: shed the oldest queued event so the newest
		// observation always gets in. Blocking the notification loop is
		// not an option.
		select {
		case old := <-w.events:
			w.logger.Printf("Event buffer full, dropping %s %s", old.Op, old.Path)
		default:
		}
		select {
		case w.events <- ev:
		case <-w.done:
		default:
		}
	}
}

// convertEvent maps an fsnotify event to an Event, applying ignore
// filtering. Chmod-only events are dropped.
func (w *Watcher) convertEvent(event fsnotify.Event) (Event, bool) {
	if w.filter.Ignored(event.Name) {
		return Event{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		// The old name is gone; a create for the new name follows.
		op = OpRemove
	default:
		return Event{}, false
	}

	return Event{Path: event.Name, Op: op, At: time.Now()}, true
}

// shouldEmit coalesces duplicate notifications for the same write into
// one logical event per observation tick. An operation of a different
// kind is always emitted, so a Modified following a Removed within the
// same tick survives (the rename-over-write pattern).
func (w *Watcher) shouldEmit(ev Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.lastSeen[ev.Path]; ok {
		if last.op == ev.Op && ev.At.Sub(last.at) < dedupWindow {
			return false
		}
	}
	w.lastSeen[ev.Path] = seen{op: ev.Op, at: ev.At}
	return true
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	case <-w.done:
	}
}
