package main

import (
	"strings"
	"testing"

	"github.com/gwatchdev/gwatch/internal/gitdiff"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    gitdiff.Mode
		wantErr bool
	}{
		{"all", gitdiff.ModeAll, false},
		{"unstaged", gitdiff.ModeUnstaged, false},
		{"staged", gitdiff.ModeStaged, false},
		{"bogus", 0, true},
	}
	for _, tc := range cases {
		got, err := parseMode(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseMode(%q) did not fail", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("parseMode(%q) = %v, %v, want %v", tc.in, got, err, tc.want)
		}
	}
}

// TestPrintDiff_Unified verifies hunk headers, line markers, and the
// truncation footer.
func TestPrintDiff_Unified(t *testing.T) {
	d := &gitdiff.FileDiff{
		Path:  "/repo/a.go",
		Mode:  gitdiff.ModeAll,
		Stats: gitdiff.Stats{Added: 1, Removed: 1},
		Hunks: []gitdiff.Hunk{{
			OldStart: 4, OldCount: 3, NewStart: 4, NewCount: 3,
			Lines: []gitdiff.Line{
				{OldNumber: 4, NewNumber: 4, Kind: gitdiff.LineContext, Content: "ctx\n"},
				{OldNumber: 5, Kind: gitdiff.LineRemoved, Content: "old\n"},
				{NewNumber: 5, Kind: gitdiff.LineAdded, Content: "new\n"},
			},
		}},
	}

	var sb strings.Builder
	printDiff(&sb, d)
	out := sb.String()

	for _, want := range []string{"+1/-1", "@@ -4,3 +4,3 @@", " ctx\n", "-old\n", "+new\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// TestPrintDiff_Flags verifies the degraded renderings.
func TestPrintDiff_Flags(t *testing.T) {
	var sb strings.Builder

	printDiff(&sb, &gitdiff.FileDiff{Path: "a", Binary: true})
	if !strings.Contains(sb.String(), "binary file") {
		t.Errorf("binary rendering = %q", sb.String())
	}

	sb.Reset()
	printDiff(&sb, &gitdiff.FileDiff{Path: "a", Unavailable: true, Note: "repository has no HEAD commit"})
	if !strings.Contains(sb.String(), "no HEAD commit") {
		t.Errorf("unavailable rendering = %q", sb.String())
	}

	sb.Reset()
	printDiff(&sb, &gitdiff.FileDiff{Path: "a", Mode: gitdiff.ModeStaged})
	if !strings.Contains(sb.String(), "no changes (Staged)") {
		t.Errorf("empty rendering = %q", sb.String())
	}
}
