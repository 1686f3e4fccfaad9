// Package review persists the per-file reviewed markers for a watch
// session. The reviewed set is independent of diff content and survives
// process restarts.
package review

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store keeps the reviewed set in memory and mirrors it to an embedded
// SQLite database after every mutation.
//
// The in-memory set is authoritative for the running session: a failed
// flush is logged, never rolled back, and the next successful flush
// reconciles storage. Flushes follow an at-most-one-write-pending
// discipline, so a mutation arriving while a flush is in flight
// supersedes it instead of interleaving with it.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger

	mu       sync.Mutex
	reviewed map[string]time.Time

	flushMu       sync.Mutex
	flushInFlight bool
	flushPending  bool
	wg            sync.WaitGroup
}

// Open creates or opens the review database at path and loads the
// persisted reviewed set. The caller must Close the store when done.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create review database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open review database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping review database: %w", err)
	}

	// Flushes are serialized through one writer.
	conn.SetMaxOpenConns(1)

	s := &Store{
		conn:     conn,
		path:     path,
		logger:   logger,
		reviewed: make(map[string]time.Time),
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS reviewed (
		path TEXT PRIMARY KEY,
		reviewed_at TEXT NOT NULL
	)`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create reviewed table: %w", err)
	}

	if err := s.load(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return s, nil
}

// load reads the persisted reviewed set into memory.
func (s *Store) load() error {
	rows, err := s.conn.Query("SELECT path, reviewed_at FROM reviewed")
	if err != nil {
		return fmt.Errorf("failed to load reviewed set: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, at string
		if err := rows.Scan(&path, &at); err != nil {
			return fmt.Errorf("failed to scan reviewed row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			t = time.Now()
		}
		s.reviewed[path] = t
	}
	return rows.Err()
}

// IsReviewed reports whether path is marked reviewed.
func (s *Store) IsReviewed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reviewed[path]
	return ok
}

// ReviewedCount returns the number of reviewed paths.
func (s *Store) ReviewedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reviewed)
}

// ReviewedPaths returns the reviewed paths in sorted order.
func (s *Store) ReviewedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.reviewed))
	for p := range s.reviewed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Toggle flips the reviewed flag for path and schedules a flush.
// It returns the new state.
func (s *Store) Toggle(path string) bool {
	s.mu.Lock()
	_, was := s.reviewed[path]
	if was {
		delete(s.reviewed, path)
	} else {
		s.reviewed[path] = time.Now()
	}
	s.mu.Unlock()

	s.scheduleFlush()
	return !was
}

// Mark sets the reviewed flag for path and schedules a flush.
func (s *Store) Mark(path string) {
	s.mu.Lock()
	s.reviewed[path] = time.Now()
	s.mu.Unlock()

	s.scheduleFlush()
}

// Unmark clears the reviewed flag for path and schedules a flush.
func (s *Store) Unmark(path string) {
	s.mu.Lock()
	delete(s.reviewed, path)
	s.mu.Unlock()

	s.scheduleFlush()
}

// ClearAll empties the reviewed set and schedules a flush.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.reviewed = make(map[string]time.Time)
	s.mu.Unlock()

	s.scheduleFlush()
}

// scheduleFlush starts a background flush unless one is already in
// flight, in which case the in-flight flush is asked to run once more
// with the newer state before finishing.
func (s *Store) scheduleFlush() {
	s.flushMu.Lock()
	if s.flushInFlight {
		s.flushPending = true
		s.flushMu.Unlock()
		return
	}
	s.flushInFlight = true
	s.flushMu.Unlock()

	s.wg.Add(1)
	go s.flushLoop()
}

func (s *Store) flushLoop() {
	defer s.wg.Done()

	for {
		if err := s.Flush(); err != nil {
			// In-memory state stays authoritative; the next mutation
			// schedules another attempt.
			s.logger.Printf("Failed to persist review state: %v", err)
		}

		s.flushMu.Lock()
		if !s.flushPending {
			s.flushInFlight = false
			s.flushMu.Unlock()
			return
		}
		s.flushPending = false
		s.flushMu.Unlock()
	}
}

// Flush writes the full reviewed set to storage in one transaction.
func (s *Store) Flush() error {
	s.mu.Lock()
	snapshot := make(map[string]time.Time, len(s.reviewed))
	for p, t := range s.reviewed {
		snapshot[p] = t
	}
	s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM reviewed"); err != nil {
		return fmt.Errorf("failed to clear reviewed table: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO reviewed (path, reviewed_at) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare reviewed insert: %w", err)
	}
	defer stmt.Close()

	for p, t := range snapshot {
		if _, err := stmt.Exec(p, t.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to insert reviewed path %s: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review flush: %w", err)
	}
	return nil
}

// Close waits for any in-flight flush and closes the database.
func (s *Store) Close() error {
	s.wg.Wait()
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close review database: %w", err)
	}
	return nil
}
