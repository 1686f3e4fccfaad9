package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"
)

// PathFilter decides which paths are excluded from watching. It combines
// the configured ignore globs with the repository's .gitignore, and
// always excludes the .git directory itself.
//
// SetPatterns may be called while the watcher is running; runtime config
// updates swap the glob set without restarting the watch session.
type PathFilter struct {
	root string

	mu        sync.RWMutex
	globs     []glob.Glob
	gitignore *ignore.GitIgnore
}

// NewPathFilter compiles the given glob patterns for the repository
// rooted at root. Patterns that fail to compile are logged and dropped
// rather than failing the whole filter.
func NewPathFilter(root string, patterns []string, logger *log.Logger) *PathFilter {
	if logger == nil {
		logger = log.Default()
	}

	f := &PathFilter{root: root}
	f.globs = compileGlobs(patterns, logger)

	gitignorePath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		gi, err := ignore.CompileIgnoreFile(gitignorePath)
		if err != nil {
			logger.Printf("Failed to parse %s: %v", gitignorePath, err)
		} else {
			f.gitignore = gi
		}
	}

	return f
}

// SetPatterns replaces the configured glob set.
func (f *PathFilter) SetPatterns(patterns []string, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	globs := compileGlobs(patterns, logger)

	f.mu.Lock()
	f.globs = globs
	f.mu.Unlock()
}

func compileGlobs(patterns []string, logger *log.Logger) []glob.Glob {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			logger.Printf("Ignoring invalid pattern %q: %v", p, err)
			continue
		}
		globs = append(globs, g)
	}
	return globs
}

// Ignored reports whether path should be excluded from the event stream.
// Globs are matched against each path component and against the full
// path relative to the repository root.
func (f *PathFilter) Ignored(path string) bool {
	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, g := range f.globs {
		if g.Match(rel) {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			if g.Match(part) {
				return true
			}
		}
	}

	if f.gitignore != nil && f.gitignore.MatchesPath(rel) {
		return true
	}

	return false
}
