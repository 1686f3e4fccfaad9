package gitdiff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Size policy thresholds, checked before diffing.
const (
	// largeFileWarnSize is the size past which a diff is still computed
	// but flagged OversizeWarned.
	largeFileWarnSize = 1024 * 1024 // 1MB

	// largeFileSkipSize is the size past which diffing is skipped
	// entirely and the result is flagged OversizeSkipped.
	largeFileSkipSize = 10 * 1024 * 1024 // 10MB
)

// ErrNotInRepo is returned when the watched path is not inside a git
// repository.
var ErrNotInRepo = errors.New("not in a git repository")

// Engine computes diffs between working tree, index, and HEAD snapshots.
//
// An Engine holds no mutable state between Compute calls; every call
// reads the two snapshots fresh, so concurrent Compute calls for
// different paths are safe.
type Engine struct {
	repo   *git.Repository
	root   string
	logger *log.Logger
}

// NewEngine opens the repository containing path. It fails with
// ErrNotInRepo when path is not inside a git work tree.
func NewEngine(path string, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}

	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotInRepo, path)
		}
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository has no working tree: %w", err)
	}

	return &Engine{
		repo:   repo,
		root:   wt.Filesystem.Root(),
		logger: logger,
	}, nil
}

// Root returns the repository's working tree root.
func (e *Engine) Root() string {
	return e.root
}

// Rel converts an absolute path to a slash-separated path relative to
// the repository root, the form git stores in trees and the index.
func (e *Engine) Rel(path string) string {
	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// snapshot is one side of a diff. missing means the path does not exist
// on that side (untracked, not staged, or not in HEAD).
type snapshot struct {
	content string
	size    int64
	binary  bool
	missing bool
}

// Compute diffs the snapshot pair selected by mode for the given
// absolute path. The context controls cancellation of a superseded
// computation; contextLines controls how many unchanged lines surround
// each hunk.
//
// Compute degrades rather than fails: binary content, oversized files,
// and a repository without a HEAD commit all yield flagged results, not
// errors. An error is returned only for unexpected repository state.
func (e *Engine) Compute(ctx context.Context, path string, mode Mode, contextLines int) (*FileDiff, error) {
	rel := e.Rel(path)
	d := &FileDiff{Path: path, Mode: mode}

	oldSnap, newSnap, err := e.snapshots(rel, path, mode, d)
	if err != nil || d.Unavailable || d.Oversize == OversizeSkipped {
		return d, err
	}

	if oldSnap.binary || newSnap.binary {
		d.Binary = true
		return d, nil
	}

	switch {
	case oldSnap.missing && newSnap.missing:
		return d, nil
	case oldSnap.missing:
		d.NewFile = true
	case newSnap.missing:
		d.Deleted = true
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines, stats := diffLines(oldSnap.content, newSnap.content)
	d.Stats = stats
	d.Hunks = buildHunks(lines, contextLines)
	truncateHunks(d)

	return d, nil
}

// snapshots loads the old and new side for the given mode, applying the
// size policy and recording unavailability on d as it goes.
func (e *Engine) snapshots(rel, abs string, mode Mode, d *FileDiff) (oldSnap, newSnap snapshot, err error) {
	switch mode {
	case ModeAll:
		newSnap = e.worktreeSnapshot(abs, d)
		if d.Oversize == OversizeSkipped {
			return
		}
		oldSnap, err = e.headSnapshot(rel, d)

	case ModeUnstaged:
		newSnap = e.worktreeSnapshot(abs, d)
		if d.Oversize == OversizeSkipped {
			return
		}
		oldSnap, err = e.indexSnapshot(rel)
		if err == nil && oldSnap.missing {
			// Not staged: fall back to HEAD so an edit to a tracked but
			// unstaged file still diffs against something meaningful.
			oldSnap, err = e.headSnapshot(rel, d)
		}

	case ModeStaged:
		newSnap, err = e.indexSnapshot(rel)
		if err != nil {
			return
		}
		if newSnap.size > largeFileSkipSize {
			d.Oversize = OversizeSkipped
			d.Note = fmt.Sprintf("staged file too large (%.1f MB), diff skipped",
				float64(newSnap.size)/1024/1024)
			return
		}
		if newSnap.size > largeFileWarnSize {
			d.Oversize = OversizeWarned
			e.logger.Printf("Large staged file %s (%.1f MB), diff may be slow",
				rel, float64(newSnap.size)/1024/1024)
		}
		oldSnap, err = e.headSnapshot(rel, d)

	default:
		err = fmt.Errorf("unknown diff mode %d", mode)
	}
	return
}

// worktreeSnapshot reads the file from disk, applying the size policy
// and binary detection. A missing file is a valid snapshot (deletion).
func (e *Engine) worktreeSnapshot(abs string, d *FileDiff) snapshot {
	info, err := os.Stat(abs)
	if err != nil {
		return snapshot{missing: true}
	}

	size := info.Size()
	if size > largeFileSkipSize {
		d.Oversize = OversizeSkipped
		d.Note = fmt.Sprintf("file too large (%.1f MB), diff skipped", float64(size)/1024/1024)
		e.logger.Printf("Skipping %s (%.1f MB), exceeds 10MB limit", abs, float64(size)/1024/1024)
		return snapshot{size: size}
	}
	if size > largeFileWarnSize {
		d.Oversize = OversizeWarned
		e.logger.Printf("Large file %s (%.1f MB), diff may be slow", abs, float64(size)/1024/1024)
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return snapshot{missing: true}
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		return snapshot{size: size, binary: true}
	}

	return snapshot{content: string(raw), size: size}
}

// headSnapshot reads the blob for rel from the HEAD commit tree. A
// repository without a resolvable HEAD marks the diff unavailable.
func (e *Engine) headSnapshot(rel string, d *FileDiff) (snapshot, error) {
	head, err := e.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			d.Unavailable = true
			d.Note = "repository has no HEAD commit"
			return snapshot{missing: true}, nil
		}
		return snapshot{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	commit, err := e.repo.CommitObject(head.Hash())
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to load HEAD commit: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to load HEAD tree: %w", err)
	}

	f, err := tree.File(rel)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return snapshot{missing: true}, nil
		}
		return snapshot{}, fmt.Errorf("failed to look up %s in HEAD: %w", rel, err)
	}

	if isBin, err := f.IsBinary(); err == nil && isBin {
		return snapshot{size: f.Size, binary: true}, nil
	}

	content, err := f.Contents()
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to read %s from HEAD: %w", rel, err)
	}
	return snapshot{content: content, size: f.Size}, nil
}

// indexSnapshot reads the staged blob for rel from the index.
func (e *Engine) indexSnapshot(rel string) (snapshot, error) {
	idx, err := e.repo.Storer.Index()
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to read index: %w", err)
	}

	entry, err := idx.Entry(rel)
	if err != nil {
		if errors.Is(err, index.ErrEntryNotFound) {
			return snapshot{missing: true}, nil
		}
		return snapshot{}, fmt.Errorf("failed to look up %s in index: %w", rel, err)
	}

	blob, err := e.repo.BlobObject(entry.Hash)
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to load staged blob for %s: %w", rel, err)
	}

	r, err := blob.Reader()
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to open staged blob for %s: %w", rel, err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to read staged blob for %s: %w", rel, err)
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		return snapshot{size: blob.Size, binary: true}, nil
	}

	return snapshot{content: string(raw), size: blob.Size}, nil
}

// SnapshotPair writes the two raw snapshots selected by mode into temp
// files so an external diff viewer can be pointed at them. The caller
// invokes cleanup when done; this package never spawns the viewer.
func (e *Engine) SnapshotPair(path string, mode Mode) (oldFile, newFile string, cleanup func(), err error) {
	rel := e.Rel(path)
	var scratch FileDiff

	var oldSnap, newSnap snapshot
	switch mode {
	case ModeStaged:
		oldSnap, err = e.headSnapshot(rel, &scratch)
		if err == nil {
			newSnap, err = e.indexSnapshot(rel)
		}
	case ModeUnstaged:
		oldSnap, err = e.indexSnapshot(rel)
		if err == nil && oldSnap.missing {
			oldSnap, err = e.headSnapshot(rel, &scratch)
		}
		newSnap = e.worktreeSnapshot(path, &scratch)
	default:
		oldSnap, err = e.headSnapshot(rel, &scratch)
		newSnap = e.worktreeSnapshot(path, &scratch)
	}
	if err != nil {
		return "", "", nil, err
	}

	dir, err := os.MkdirTemp("", "gwatch-diff-*")
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	base := strings.ReplaceAll(rel, "/", "_")
	oldFile = filepath.Join(dir, "old_"+base)
	newFile = filepath.Join(dir, "new_"+base)

	if err := os.WriteFile(oldFile, []byte(oldSnap.content), 0o644); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("failed to write old snapshot: %w", err)
	}
	if err := os.WriteFile(newFile, []byte(newSnap.content), 0o644); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("failed to write new snapshot: %w", err)
	}

	return oldFile, newFile, cleanup, nil
}
