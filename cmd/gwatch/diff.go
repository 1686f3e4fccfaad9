package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gwatchdev/gwatch/internal/config"
	"github.com/gwatchdev/gwatch/internal/gitdiff"
	"github.com/gwatchdev/gwatch/internal/viewer"
)

var (
	flagDiffMode   string
	flagDiffViewer string
)

var diffCmd = &cobra.Command{
	Use:   "diff <file>",
	Short: "Show the current diff of one file",
	Long: `Computes a one-shot diff of the given file against the chosen
reference state. With delta or difftastic installed (or configured via
viewer.command), the raw snapshots are handed to that viewer; otherwise
a unified diff is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().StringVar(&flagDiffMode, "mode", "all",
		"snapshot pair to compare: all, unstaged, or staged")
	diffCmd.Flags().StringVar(&flagDiffViewer, "viewer", "",
		"viewer to use: auto, delta, difftastic, or internal (overrides config)")
	rootCmd.AddCommand(diffCmd)
}

func parseMode(s string) (gitdiff.Mode, error) {
	switch s {
	case "all":
		return gitdiff.ModeAll, nil
	case "unstaged":
		return gitdiff.ModeUnstaged, nil
	case "staged":
		return gitdiff.ModeStaged, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want all, unstaged, or staged)", s)
	}
}

func runDiff(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(flagDiffMode)
	if err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	cfg, _, err := config.Load(flagConfigDir, log.Default())
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", 0)
	engine, err := gitdiff.NewEngine(path, logger)
	if err != nil {
		return err
	}

	preferred := cfg.Viewer.Command
	if flagDiffViewer != "" {
		preferred = flagDiffViewer
	}

	switch viewer.Resolve(viewer.Parse(preferred), logger) {
	case viewer.TypeDelta:
		return spawnViewer(engine, path, mode, "delta")
	case viewer.TypeDifftastic:
		return spawnViewer(engine, path, mode, "difft")
	default:
		d, err := engine.Compute(context.Background(), path, mode, cfg.Display.ContextLines)
		if err != nil {
			return err
		}
		printDiff(cmd.OutOrStdout(), d)
		return nil
	}
}

func spawnViewer(engine *gitdiff.Engine, path string, mode gitdiff.Mode, bin string) error {
	oldFile, newFile, cleanup, err := engine.SnapshotPair(path, mode)
	if err != nil {
		return err
	}
	defer cleanup()

	c := exec.Command(bin, oldFile, newFile)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Stdin = os.Stdin

	err = c.Run()
	// delta exits 1 when the files differ, which is the expected case.
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return nil
	}
	return err
}

// printDiff renders a FileDiff in unified-diff style.
func printDiff(w io.Writer, d *gitdiff.FileDiff) {
	switch {
	case d.Unavailable:
		fmt.Fprintf(w, "%s: diff unavailable: %s\n", d.Path, d.Note)
		return
	case d.Binary:
		fmt.Fprintf(w, "%s: binary file\n", d.Path)
		return
	case d.Oversize == gitdiff.OversizeSkipped:
		fmt.Fprintf(w, "%s: %s\n", d.Path, d.Note)
		return
	case len(d.Hunks) == 0:
		fmt.Fprintf(w, "%s: no changes (%s)\n", d.Path, d.Mode.Label())
		return
	}

	status := ""
	if d.NewFile {
		status = " (new file)"
	} else if d.Deleted {
		status = " (deleted)"
	}
	fmt.Fprintf(w, "%s%s  +%d/-%d  [%s]\n", d.Path, status, d.Stats.Added, d.Stats.Removed, d.Mode.Label())

	for _, h := range d.Hunks {
		if h.Gap {
			fmt.Fprintf(w, "... %d lines omitted ...\n", h.Omitted)
			continue
		}
		fmt.Fprintf(w, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			var marker byte
			switch l.Kind {
			case gitdiff.LineAdded:
				marker = '+'
			case gitdiff.LineRemoved:
				marker = '-'
			default:
				marker = ' '
			}
			content := strings.TrimSuffix(l.Content, "\n")
			fmt.Fprintf(w, "%c%s\n", marker, content)
		}
	}
	if d.Truncated {
		fmt.Fprintf(w, "(diff truncated, %d lines omitted)\n", d.OmittedLines)
	}
}
