// Package gitdiff computes line-level diffs between working tree, index,
// and HEAD snapshots of files in a git repository.
package gitdiff

// Mode selects which two content snapshots are compared.
type Mode int

const (
	// ModeAll compares the working tree against HEAD.
	ModeAll Mode = iota
	// ModeUnstaged compares the working tree against the index.
	ModeUnstaged
	// ModeStaged compares the index against HEAD.
	ModeStaged
)

// Next returns the mode that follows in the cycle order.
func (m Mode) Next() Mode {
	switch m {
	case ModeAll:
		return ModeUnstaged
	case ModeUnstaged:
		return ModeStaged
	default:
		return ModeAll
	}
}

// Label returns a human-readable name for the mode.
func (m Mode) Label() string {
	switch m {
	case ModeAll:
		return "All Changes"
	case ModeUnstaged:
		return "Unstaged"
	case ModeStaged:
		return "Staged"
	default:
		return "unknown"
	}
}

// String returns a short identifier for the mode.
func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeUnstaged:
		return "unstaged"
	case ModeStaged:
		return "staged"
	default:
		return "unknown"
	}
}

// LineKind classifies a single diff line.
type LineKind int

const (
	// LineContext is an unchanged line present on both sides.
	LineContext LineKind = iota
	// LineAdded is a line present only on the new side.
	LineAdded
	// LineRemoved is a line present only on the old side.
	LineRemoved
)

// String returns a human-readable representation of the line kind.
func (k LineKind) String() string {
	switch k {
	case LineContext:
		return "context"
	case LineAdded:
		return "added"
	case LineRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Line is a single line within a hunk. OldNumber is zero for added lines
// and NewNumber is zero for removed lines.
type Line struct {
	OldNumber int      `json:"old_number,omitempty"`
	NewNumber int      `json:"new_number,omitempty"`
	Kind      LineKind `json:"kind"`
	Content   string   `json:"content"`
}

// Hunk is a contiguous run of changed lines plus surrounding context.
//
// Hunks for a file are ordered by ascending OldStart and never overlap.
// A hunk with Gap set carries no lines; it stands in for Omitted lines
// dropped by truncation between its neighbours.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldCount int    `json:"old_count"`
	NewStart int    `json:"new_start"`
	NewCount int    `json:"new_count"`
	Lines    []Line `json:"lines,omitempty"`
	Gap      bool   `json:"gap,omitempty"`
	Omitted  int    `json:"omitted,omitempty"`
}

// Stats counts added and removed lines across all hunks of a diff.
type Stats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Oversize records which size policy was applied to a diff.
type Oversize int

const (
	// OversizeNone means the file was under all size thresholds.
	OversizeNone Oversize = iota
	// OversizeWarned means the file exceeded the warn threshold but was diffed.
	OversizeWarned
	// OversizeSkipped means the file exceeded the skip threshold and was not diffed.
	OversizeSkipped
)

// String returns a human-readable representation of the oversize policy.
func (o Oversize) String() string {
	switch o {
	case OversizeNone:
		return "none"
	case OversizeWarned:
		return "warned"
	case OversizeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// FileDiff is the result of comparing two snapshots of one file.
//
// A FileDiff is never mutated after Compute returns it; a later diff for
// the same path supersedes it wholesale.
type FileDiff struct {
	Path string `json:"path"`
	Mode Mode   `json:"mode"`

	Hunks []Hunk `json:"hunks,omitempty"`
	Stats Stats  `json:"stats"`

	NewFile bool `json:"new_file,omitempty"`
	Deleted bool `json:"deleted,omitempty"`
	Binary  bool `json:"binary,omitempty"`

	Truncated    bool     `json:"truncated,omitempty"`
	OmittedLines int      `json:"omitted_lines,omitempty"`
	Oversize     Oversize `json:"oversize,omitempty"`

	// Unavailable marks a diff that could not be computed because the
	// repository is not in the expected state (for example no HEAD
	// commit yet). Note explains why.
	Unavailable bool   `json:"unavailable,omitempty"`
	Note        string `json:"note,omitempty"`
}

// TotalLines returns the combined line count across all hunks.
func (d *FileDiff) TotalLines() int {
	total := 0
	for _, h := range d.Hunks {
		total += len(h.Lines)
	}
	return total
}

// FirstChangeOffset returns the index, counting over all hunk lines in
// order, of the first added or removed line. Renderers use it to scroll
// straight to the change. Returns 0 when the diff has no changes.
func (d *FileDiff) FirstChangeOffset() int {
	idx := 0
	for _, h := range d.Hunks {
		for _, l := range h.Lines {
			if l.Kind != LineContext {
				if idx >= 2 {
					return idx - 2
				}
				return 0
			}
			idx++
		}
	}
	return 0
}
