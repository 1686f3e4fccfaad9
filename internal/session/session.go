// Package session owns the mutable state of a watch session: the
// current diff mode, per-file diff results and hunk view state, the
// bounded event history, and the reviewed set. All mutation is
// serialized through the Session; readers get consistent snapshots.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/gwatchdev/gwatch/internal/gitdiff"
	"github.com/gwatchdev/gwatch/internal/review"
	"github.com/gwatchdev/gwatch/internal/watcher"
)

// FileState tracks where a file is in the diff lifecycle.
type FileState int

const (
	// StateUnknown means no diff has been requested for the file yet.
	StateUnknown FileState = iota
	// StateDiffing means a diff computation is in flight.
	StateDiffing
	// StateReady means the stored diff is current and renderable.
	StateReady
	// StateStale means a newer request superseded the stored diff. The
	// previous result stays readable but must be annotated as outdated,
	// never presented as current.
	StateStale
)

// String returns a human-readable representation of the state.
func (s FileState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateDiffing:
		return "diffing"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	default:
		return "invalid"
	}
}

// HistoryEntry records one settled change observation. History survives
// even when the underlying diff is later superseded.
type HistoryEntry struct {
	ID      uint64          `json:"id"`
	Path    string          `json:"path"`
	RelPath string          `json:"rel_path"`
	At      time.Time       `json:"at"`
	Op      watcher.EventOp `json:"-"`
	OpName  string          `json:"op"`
	Added   int             `json:"added"`
	Removed int             `json:"removed"`
}

// fileRecord is the per-path aggregate: lifecycle state, a generation
// counter that cancels superseded computations, the last diff, and the
// hunk collapse state.
type fileRecord struct {
	state     FileState
	gen       uint64
	mode      gitdiff.Mode
	diff      *gitdiff.FileDiff
	collapsed map[int]bool
}

// Session is the single mutable hub of the core. The ingestion pipeline
// and external presentation commands both mutate it under one lock;
// Snapshot returns copies so rendering never blocks mutation.
type Session struct {
	logger *log.Logger
	review *review.Store

	mu           sync.Mutex
	mode         gitdiff.Mode
	paused       bool
	hideContext  bool
	contextLines int
	maxEvents    int
	nextID       uint64
	history      []HistoryEntry
	files        map[string]*fileRecord
	focusPath    string
	focusHunk    int
}

// Config holds session construction parameters.
type Config struct {
	// MaxEvents caps the event history length.
	MaxEvents int
	// ContextLines is the hunk context size passed to the diff engine.
	ContextLines int
	// Review is the persisted reviewed-set store. Required.
	Review *review.Store
	// Logger for session activity.
	Logger *log.Logger
}

// New creates a Session with the given configuration.
func New(cfg Config) *Session {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 300
	}
	if cfg.ContextLines <= 0 {
		cfg.ContextLines = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Session{
		logger:       cfg.Logger,
		review:       cfg.Review,
		mode:         gitdiff.ModeAll,
		contextLines: cfg.ContextLines,
		maxEvents:    cfg.MaxEvents,
		files:        make(map[string]*fileRecord),
	}
}

// Mode returns the current diff mode.
func (s *Session) Mode() gitdiff.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// CycleMode advances to the next diff mode. Every Ready diff was
// computed for the old mode, so all of them become Stale.
func (s *Session) CycleMode() gitdiff.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode = s.mode.Next()
	for _, rec := range s.files {
		if rec.state == StateReady {
			rec.state = StateStale
		}
	}
	s.logger.Printf("Diff mode changed to %s", s.mode)
	return s.mode
}

// Paused reports whether diff computation is currently deferred.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// TogglePause flips the pause flag and returns the new state. While
// paused, events keep flowing into history and timers keep firing; only
// diff computation is deferred.
func (s *Session) TogglePause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = !s.paused
	return s.paused
}

// HideContext reports the global context-visibility toggle.
func (s *Session) HideContext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hideContext
}

// SetHideContext sets the global context-visibility toggle for every
// hunk of every file. It is orthogonal to per-hunk collapse state:
// collapse hides a hunk's whole body, context-hiding hides only
// unchanged lines within expanded hunks. Neither mutates stored lines.
func (s *Session) SetHideContext(hide bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideContext = hide
}

// ContextLines returns the configured hunk context size.
func (s *Session) ContextLines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextLines
}

// SetContextLines updates the hunk context size for subsequent diffs.
func (s *Session) SetContextLines(n int) {
	if n < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextLines = n
}

// SetMaxEvents updates the history capacity, evicting oldest entries if
// the new capacity is smaller.
func (s *Session) SetMaxEvents(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxEvents = n
	if len(s.history) > n {
		s.history = s.history[:n]
	}
}

// RecordRequest registers a settled change observation: it appends a
// history entry (evicting the oldest past capacity), bumps the path's
// generation so any in-flight diff for it is discarded on completion,
// and marks a previously Ready diff Stale immediately, before the
// replacement diff even starts.
//
// It returns the generation token the eventual Publish must present,
// the history entry id for the later stats fill-in, and the mode the
// diff should be computed with.
func (s *Session) RecordRequest(req watcher.Request, relPath string) (gen uint64, entryID uint64, mode gitdiff.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry := HistoryEntry{
		ID:      s.nextID,
		Path:    req.Path,
		RelPath: relPath,
		At:      req.At,
		Op:      req.Op,
		OpName:  req.Op.String(),
	}

	// Append at head, drop oldest past capacity. Never the newest.
	s.history = append([]HistoryEntry{entry}, s.history...)
	if len(s.history) > s.maxEvents {
		s.history = s.history[:s.maxEvents]
	}

	rec, ok := s.files[req.Path]
	if !ok {
		rec = &fileRecord{collapsed: make(map[int]bool)}
		s.files[req.Path] = rec
	}
	rec.gen++
	if rec.state == StateReady {
		rec.state = StateStale
	}

	return rec.gen, entry.ID, s.mode
}

// BeginDiff transitions the file to Diffing if gen is still current.
// A false return means a newer request superseded this one before its
// computation started; the caller should skip the work entirely.
func (s *Session) BeginDiff(path string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[path]
	if !ok || rec.gen != gen {
		return false
	}
	rec.state = StateDiffing
	return true
}

// Generation returns the current generation for path. In-flight
// computations use it to notice supersession without publishing.
func (s *Session) Generation(path string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.files[path]; ok {
		return rec.gen
	}
	return 0
}

// Publish stores a completed diff if its generation token is still
// current; a superseded result is discarded, never merged. On success
// the file becomes Ready, its collapse state resets, focus moves to it,
// and the originating history entry gets its line-count summary.
func (s *Session) Publish(path string, gen, entryID uint64, d *gitdiff.FileDiff) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[path]
	if !ok || rec.gen != gen {
		return false
	}

	rec.state = StateReady
	rec.diff = d
	rec.mode = d.Mode
	rec.collapsed = make(map[int]bool)

	for i := range s.history {
		if s.history[i].ID == entryID {
			s.history[i].Added = d.Stats.Added
			s.history[i].Removed = d.Stats.Removed
			break
		}
	}

	if !s.paused {
		s.focusPath = path
		s.focusHunk = firstFocusable(d)
	}
	return true
}

// Forget drops the per-file record for path if gen is still current,
// used when a removal settles for a file that has nothing to diff (it
// was never tracked). History entries for the path are kept. It returns
// whether the record was dropped.
func (s *Session) Forget(path string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[path]
	if !ok || rec.gen != gen {
		return false
	}
	delete(s.files, path)
	if s.focusPath == path {
		s.focusPath = ""
		s.focusHunk = 0
	}
	return true
}

// ClearHistory empties the event history. Per-file diff state and the
// reviewed set are unaffected.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// ToggleReviewed flips the persisted reviewed marker for path and
// returns the new state.
func (s *Session) ToggleReviewed(path string) bool {
	return s.review.Toggle(path)
}

// MarkReviewed sets the persisted reviewed marker for path.
func (s *Session) MarkReviewed(path string) {
	s.review.Mark(path)
}

// UnmarkReviewed clears the persisted reviewed marker for path.
func (s *Session) UnmarkReviewed(path string) {
	s.review.Unmark(path)
}

// ClearAllReviewed empties the persisted reviewed set.
func (s *Session) ClearAllReviewed() {
	s.review.ClearAll()
}

// ToggleHunkCollapsed flips the collapsed flag for the given hunk index
// of the focused file. Collapsed hunks keep their lines so expansion is
// instantaneous; two toggles restore the original state.
func (s *Session) ToggleHunkCollapsed(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[s.focusPath]
	if !ok || rec.diff == nil || index < 0 || index >= len(rec.diff.Hunks) {
		return
	}
	if rec.collapsed[index] {
		delete(rec.collapsed, index)
	} else {
		rec.collapsed[index] = true
	}
}

// NextHunk advances the focus to the next hunk, crossing into the next
// file with changes (in history order) when the current file's hunks
// are exhausted. Focus never lands on a file with zero hunks or on a
// truncation gap marker.
func (s *Session) NextHunk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moveFocus(1)
}

// PrevHunk moves the focus to the previous hunk, crossing files
// backwards in history order.
func (s *Session) PrevHunk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moveFocus(-1)
}

// moveFocus walks the flattened (file, hunk) focus positions in history
// order, wrapping at either end.
func (s *Session) moveFocus(dir int) {
	type pos struct {
		path string
		hunk int
	}

	var positions []pos
	current := -1
	for _, path := range s.orderedPaths() {
		rec := s.files[path]
		if rec == nil || rec.diff == nil || rec.state == StateUnknown {
			continue
		}
		for i, h := range rec.diff.Hunks {
			if h.Gap {
				continue
			}
			if path == s.focusPath && i == s.focusHunk {
				current = len(positions)
			}
			positions = append(positions, pos{path: path, hunk: i})
		}
	}

	if len(positions) == 0 {
		return
	}

	var next int
	if current < 0 {
		next = 0
	} else {
		next = (current + dir + len(positions)) % len(positions)
	}

	s.focusPath = positions[next].path
	s.focusHunk = positions[next].hunk
}

// orderedPaths returns the unique paths present in history, newest
// observation first.
func (s *Session) orderedPaths() []string {
	seen := make(map[string]bool, len(s.history))
	var paths []string
	for _, e := range s.history {
		if seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		paths = append(paths, e.Path)
	}
	return paths
}

// firstFocusable returns the index of the first non-gap hunk.
func firstFocusable(d *gitdiff.FileDiff) int {
	for i, h := range d.Hunks {
		if !h.Gap {
			return i
		}
	}
	return 0
}
