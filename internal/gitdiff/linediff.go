package gitdiff

import (
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffTimeout bounds the time diffmatchpatch spends searching for a
// minimal diff. Past the deadline it returns a valid but suboptimal diff.
const diffTimeout = 2 * time.Second

// Intern values must survive the []rune/string round trips inside
// diffmatchpatch: the UTF-16 surrogate block does not (each such rune
// comes back as U+FFFD), so intern indices skip over it.
const (
	surrogateMin  = 0xD800
	surrogateSize = 0x800
	maxInternable = 0x110000 - surrogateSize
)

func internRune(i int) rune {
	if i >= surrogateMin {
		return rune(i + surrogateSize)
	}
	return rune(i)
}

func internIndex(r rune) int {
	if int(r) >= surrogateMin+surrogateSize {
		return int(r) - surrogateSize
	}
	return int(r)
}

// lineIndex interns lines as rune values so whole texts can be diffed at
// line granularity with DiffMainRunes. Mapping lines to runes instead of
// the chars-based API avoids the 65535-line ceiling.
type lineIndex struct {
	byLine map[string]rune
	lines  []string
}

func newLineIndex() *lineIndex {
	return &lineIndex{byLine: make(map[string]rune)}
}

// splitLines splits text into lines keeping their trailing newline, so a
// missing final newline diffs as a distinct line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	// SplitAfter leaves a trailing empty element when text ends in \n.
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// encode converts lines to one rune per line. The false return means the
// rune space is exhausted and the texts cannot be interned.
func (ix *lineIndex) encode(lines []string) ([]rune, bool) {
	encoded := make([]rune, len(lines))
	for i, line := range lines {
		r, ok := ix.byLine[line]
		if !ok {
			if len(ix.lines) == maxInternable {
				return nil, false
			}
			r = internRune(len(ix.lines))
			ix.byLine[line] = r
			ix.lines = append(ix.lines, line)
		}
		encoded[i] = r
	}
	return encoded, true
}

func (ix *lineIndex) line(r rune) string {
	return ix.lines[internIndex(r)]
}

// diffLines computes a line-level diff between old and new, numbering
// lines on both sides from 1.
func diffLines(oldText, newText string) ([]Line, Stats) {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	ix := newLineIndex()
	oldRunes, okOld := ix.encode(oldLines)
	newRunes, okNew := ix.encode(newLines)
	if !okOld || !okNew {
		// Over a million distinct lines: such a diff is far past the
		// truncation cap anyway, degrade to a whole-file replacement.
		return replaceLines(oldLines, newLines)
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout
	diffs := dmp.DiffMainRunes(oldRunes, newRunes, false)

	var out []Line
	var stats Stats
	oldN, newN := 1, 1

	for _, d := range diffs {
		for _, r := range d.Text {
			content := strings.TrimSuffix(ix.line(r), "\n")

			switch d.Type {
			case diffmatchpatch.DiffEqual:
				out = append(out, Line{
					OldNumber: oldN,
					NewNumber: newN,
					Kind:      LineContext,
					Content:   content,
				})
				oldN++
				newN++

			case diffmatchpatch.DiffDelete:
				out = append(out, Line{
					OldNumber: oldN,
					Kind:      LineRemoved,
					Content:   content,
				})
				stats.Removed++
				oldN++

			case diffmatchpatch.DiffInsert:
				out = append(out, Line{
					NewNumber: newN,
					Kind:      LineAdded,
					Content:   content,
				})
				stats.Added++
				newN++
			}
		}
	}

	return out, stats
}

// replaceLines renders the old side fully removed and the new side fully
// added.
func replaceLines(oldLines, newLines []string) ([]Line, Stats) {
	out := make([]Line, 0, len(oldLines)+len(newLines))
	for i, l := range oldLines {
		out = append(out, Line{OldNumber: i + 1, Kind: LineRemoved, Content: strings.TrimSuffix(l, "\n")})
	}
	for i, l := range newLines {
		out = append(out, Line{NewNumber: i + 1, Kind: LineAdded, Content: strings.TrimSuffix(l, "\n")})
	}
	return out, Stats{Added: len(newLines), Removed: len(oldLines)}
}
