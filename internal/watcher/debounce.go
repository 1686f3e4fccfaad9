package watcher

import (
	"log"
	"sync"
	"time"
)

// DefaultQuietPeriod is how long a path must stay quiet after its last
// event before a diff request is emitted for it.
const DefaultQuietPeriod = 50 * time.Millisecond

// Request asks for one diff of one path. At most one request per path is
// outstanding at a time; a newer request supersedes any unresolved one
// for the same path, so the latest write always wins.
type Request struct {
	// Path is the absolute path to diff.
	Path string
	// Op is the latest operation observed for the path.
	Op EventOp
	// At is when the request was emitted.
	At time.Time
}

// Debouncer coalesces bursts of events per path into a single Request
// after a quiet period. Each path debounces independently: a burst on
// one path never delays emission for another.
//
// A remove event bypasses the quiet period entirely so deletions are
// reflected without delay. If the path reappears within one quiet
// period of the removal, the follow-up request is emitted as a modify,
// netting the remove/recreate pattern out to a single logical change.
type Debouncer struct {
	logger *log.Logger

	mu        sync.Mutex
	quiet     time.Duration
	seq       uint64
	timers    map[string]*pendingTimer
	removedAt map[string]time.Time
	closed    bool

	requests chan Request
}

// pendingTimer carries the sequence number of its scheduling. A timer
// callback that already fired when its restart stopped it would
// otherwise emit with the restarted op the moment the lock frees; the
// stale seq lets fire recognize and discard that callback.
type pendingTimer struct {
	timer *time.Timer
	op    EventOp
	seq   uint64
}

// NewDebouncer creates a Debouncer with the given quiet period. The
// request channel is bounded by buffer; on overflow the oldest queued
// request is dropped with a log line rather than blocking the caller.
func NewDebouncer(quiet time.Duration, buffer int, logger *log.Logger) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if buffer <= 0 {
		buffer = 100
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Debouncer{
		logger:    logger,
		quiet:     quiet,
		timers:    make(map[string]*pendingTimer),
		removedAt: make(map[string]time.Time),
		requests:  make(chan Request, buffer),
	}
}

// Requests returns the channel of emitted diff requests. It is closed
// by Close.
func (d *Debouncer) Requests() <-chan Request {
	return d.requests
}

// SetQuietPeriod changes the quiet period for timers started after the
// call. Already pending timers keep their original deadline.
func (d *Debouncer) SetQuietPeriod(quiet time.Duration) {
	if quiet <= 0 {
		return
	}
	d.mu.Lock()
	d.quiet = quiet
	d.mu.Unlock()
}

// Observe feeds one event into the debouncer, restarting the path's
// quiet-period timer. Restart means cancel-and-reschedule; timers never
// accumulate per path.
func (d *Debouncer) Observe(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if ev.Op == OpRemove {
		if p, ok := d.timers[ev.Path]; ok {
			p.timer.Stop()
			delete(d.timers, ev.Path)
		}
		d.removedAt[ev.Path] = ev.At
		d.emitLocked(Request{Path: ev.Path, Op: OpRemove, At: time.Now()})
		return
	}

	op := ev.Op
	if removed, ok := d.removedAt[ev.Path]; ok {
		if ev.At.Sub(removed) < d.quiet {
			// Removed and recreated within one quiet period: a single
			// modify request preserves diff continuity.
			op = OpModify
		}
		delete(d.removedAt, ev.Path)
	}

	d.seq++
	seq := d.seq

	if p, ok := d.timers[ev.Path]; ok {
		p.timer.Stop()
		p.op = op
		p.seq = seq
		p.timer = time.AfterFunc(d.quiet, func() { d.fire(ev.Path, seq) })
		return
	}

	p := &pendingTimer{op: op, seq: seq}
	p.timer = time.AfterFunc(d.quiet, func() { d.fire(ev.Path, seq) })
	d.timers[ev.Path] = p
}

// fire emits the request for path once its quiet period elapsed without
// a further event. A callback that lost the race with a timer restart
// carries a superseded seq and bows out.
func (d *Debouncer) fire(path string, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.timers[path]
	if !ok || p.seq != seq || d.closed {
		return
	}
	delete(d.timers, path)

	d.emitLocked(Request{Path: path, Op: p.op, At: time.Now()})
}

// emitLocked sends without blocking; a full buffer sheds the oldest
// queued request so the newest one always gets in.
func (d *Debouncer) emitLocked(req Request) {
	select {
	case d.requests <- req:
	default:
		select {
		case old := <-d.requests:
			d.logger.Printf("Request buffer full, dropping %s %s", old.Op, old.Path)
		default:
		}
		select {
		case d.requests <- req:
		default:
		}
	}
}

// PendingCount returns how many paths currently have a running timer.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Close stops all pending timers and closes the request channel. Observe
// calls after Close are ignored.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	for path, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, path)
	}
	close(d.requests)
}
