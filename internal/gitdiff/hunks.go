package gitdiff

// Truncation thresholds. A diff whose combined line count exceeds
// maxDiffLines keeps only the first and last truncateKeepLines lines,
// with a gap hunk standing in for the omitted middle.
const (
	maxDiffLines      = 5000
	truncateKeepLines = 100
)

// defaultContextLines is the number of unchanged lines kept around each
// change run when no explicit context size is configured.
const defaultContextLines = 3

// buildHunks groups a full line-level diff into hunks, keeping context
// unchanged lines around each change run. Change runs whose context
// windows touch or overlap are merged into one hunk.
func buildHunks(lines []Line, context int) []Hunk {
	if context < 0 {
		context = defaultContextLines
	}

	// Collect [start,end) windows around each change line.
	type window struct{ start, end int }
	var windows []window
	for i, l := range lines {
		if l.Kind == LineContext {
			continue
		}
		start := i - context
		if start < 0 {
			start = 0
		}
		end := i + context + 1
		if end > len(lines) {
			end = len(lines)
		}
		if n := len(windows); n > 0 && start <= windows[n-1].end {
			windows[n-1].end = end
		} else {
			windows = append(windows, window{start, end})
		}
	}

	hunks := make([]Hunk, 0, len(windows))
	for _, w := range windows {
		hunks = append(hunks, makeHunk(lines, w.start, w.end))
	}
	return hunks
}

// makeHunk builds one hunk from lines[start:end), deriving the header
// ranges from the line numbers inside the window. For a window with no
// old-side lines (pure insertion), OldStart is the old-side position the
// insertion lands after, keeping hunks sorted by ascending OldStart.
func makeHunk(lines []Line, start, end int) Hunk {
	h := Hunk{Lines: append([]Line(nil), lines[start:end]...)}

	for _, l := range h.Lines {
		if l.OldNumber > 0 {
			if h.OldStart == 0 {
				h.OldStart = l.OldNumber
			}
			h.OldCount++
		}
		if l.NewNumber > 0 {
			if h.NewStart == 0 {
				h.NewStart = l.NewNumber
			}
			h.NewCount++
		}
	}

	if h.OldStart == 0 {
		h.OldStart = lastOldBefore(lines, start) + 1
	}
	if h.NewStart == 0 {
		h.NewStart = lastNewBefore(lines, start) + 1
	}
	return h
}

func lastOldBefore(lines []Line, idx int) int {
	for i := idx - 1; i >= 0; i-- {
		if lines[i].OldNumber > 0 {
			return lines[i].OldNumber
		}
	}
	return 0
}

func lastNewBefore(lines []Line, idx int) int {
	for i := idx - 1; i >= 0; i-- {
		if lines[i].NewNumber > 0 {
			return lines[i].NewNumber
		}
	}
	return 0
}

// truncateHunks reduces an oversized diff to its first and last
// truncateKeepLines lines with a single gap hunk in between. The gap
// records how many lines were omitted rather than dropping them silently.
func truncateHunks(d *FileDiff) {
	total := d.TotalLines()
	if total <= maxDiffLines {
		return
	}

	var all []Line
	for _, h := range d.Hunks {
		all = append(all, h.Lines...)
	}

	head := all[:truncateKeepLines]
	tail := all[len(all)-truncateKeepLines:]
	omitted := total - 2*truncateKeepLines

	first := makeHunk(head, 0, len(head))
	last := makeHunk(tail, 0, len(tail))

	gap := Hunk{
		Gap:      true,
		Omitted:  omitted,
		OldStart: first.OldStart + first.OldCount,
		NewStart: first.NewStart + first.NewCount,
	}

	d.Hunks = []Hunk{first, gap, last}
	d.Truncated = true
	d.OmittedLines = omitted
}
