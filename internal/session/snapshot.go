package session

import (
	"sort"
	"time"

	"github.com/gwatchdev/gwatch/internal/gitdiff"
)

// FileSnapshot is the render-facing view of one file's diff state.
//
// Diff is non-nil only for Ready and Stale files; a Stale diff must be
// annotated as outdated by the renderer, never presented as current.
// The FileDiff itself is immutable once published, so sharing the
// pointer across snapshots is safe.
type FileSnapshot struct {
	Path        string            `json:"path"`
	RelPath     string            `json:"rel_path"`
	State       FileState         `json:"-"`
	StateName   string            `json:"state"`
	Stale       bool              `json:"stale"`
	Diff        *gitdiff.FileDiff `json:"diff,omitempty"`
	Collapsed   []int             `json:"collapsed,omitempty"`
	Reviewed    bool              `json:"reviewed"`
	FirstChange int               `json:"first_change"`
}

// Snapshot is a consistent copy of the session for rendering or
// broadcast. Taking one never blocks the ingestion path for longer than
// the copy itself.
type Snapshot struct {
	TakenAt       time.Time      `json:"taken_at"`
	Mode          gitdiff.Mode   `json:"-"`
	ModeLabel     string         `json:"mode"`
	Paused        bool           `json:"paused"`
	HideContext   bool           `json:"hide_context"`
	FocusPath     string         `json:"focus_path,omitempty"`
	FocusHunk     int            `json:"focus_hunk"`
	ReviewedCount int            `json:"reviewed_count"`
	History       []HistoryEntry `json:"history,omitempty"`
	Files         []FileSnapshot `json:"files,omitempty"`
}

// Snapshot returns a copy of the current session state. Files appear in
// history order, newest observation first.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TakenAt:     time.Now(),
		Mode:        s.mode,
		ModeLabel:   s.mode.Label(),
		Paused:      s.paused,
		HideContext: s.hideContext,
		FocusPath:   s.focusPath,
		FocusHunk:   s.focusHunk,
		History:     append([]HistoryEntry(nil), s.history...),
	}
	if s.review != nil {
		snap.ReviewedCount = s.review.ReviewedCount()
	}

	relByPath := make(map[string]string, len(s.history))
	for _, e := range s.history {
		if _, ok := relByPath[e.Path]; !ok {
			relByPath[e.Path] = e.RelPath
		}
	}

	for _, path := range s.orderedPaths() {
		rec, ok := s.files[path]
		if !ok {
			continue
		}

		fs := FileSnapshot{
			Path:      path,
			RelPath:   relByPath[path],
			State:     rec.state,
			StateName: rec.state.String(),
			Stale:     rec.state == StateStale,
		}
		if s.review != nil {
			fs.Reviewed = s.review.IsReviewed(path)
		}

		// Hunks are renderable from Ready results; a Stale record keeps
		// its previous diff so the renderer can show it annotated.
		if rec.diff != nil && (rec.state == StateReady || rec.state == StateStale) {
			fs.Diff = rec.diff
			fs.FirstChange = rec.diff.FirstChangeOffset()
			for idx := range rec.collapsed {
				fs.Collapsed = append(fs.Collapsed, idx)
			}
			sort.Ints(fs.Collapsed)
		}

		snap.Files = append(snap.Files, fs)
	}

	return snap
}
