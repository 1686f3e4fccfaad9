package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gwatchdev/gwatch/internal/gitdiff"
	"github.com/gwatchdev/gwatch/internal/watcher"
)

// defaultDiffWorkers is the size of the diff worker pool. Diffs run off
// the ingestion path so a slow large-file diff never blocks intake of
// new filesystem events.
const defaultDiffWorkers = 2

// job is one dispatched diff computation, pinned to the generation and
// mode captured when its request was recorded.
type job struct {
	req     watcher.Request
	gen     uint64
	entryID uint64
	mode    gitdiff.Mode
}

// Runner wires the pipeline together: watcher events feed the
// debouncer, settled requests are recorded on the Session, and a worker
// pool computes diffs and publishes results. External commands that
// need pipeline cooperation (pause/resume) go through the Runner; pure
// state commands go straight to the Session.
type Runner struct {
	watch   *watcher.Watcher
	deb     *watcher.Debouncer
	engine  *gitdiff.Engine
	sess    *Session
	logger  *log.Logger
	workers int

	jobs chan job

	mu       sync.Mutex
	deferred []job

	// OnUpdate, when set before Run, is called after every published
	// diff with a fresh snapshot. Used by subscription surfaces such as
	// the dashboard; it must not block for long.
	OnUpdate func(Snapshot)
}

// RunnerConfig holds pipeline construction parameters.
type RunnerConfig struct {
	Watcher  *watcher.Watcher
	Debounce *watcher.Debouncer
	Engine   *gitdiff.Engine
	Session  *Session
	Workers  int
	Logger   *log.Logger
}

// NewRunner creates a Runner. Start it with Run.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultDiffWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Runner{
		watch:   cfg.Watcher,
		deb:     cfg.Debounce,
		engine:  cfg.Engine,
		sess:    cfg.Session,
		logger:  cfg.Logger,
		workers: cfg.Workers,
		jobs:    make(chan job, 256),
	}
}

// Session returns the state hub the presentation layer reads and
// commands.
func (r *Runner) Session() *Session {
	return r.sess
}

// Run starts the watcher and drives the pipeline until ctx is cancelled
// or the watch fails fatally. Only a fatal watch error ends the run;
// everything else degrades to flagged results.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.watch.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// Ingestion: raw events into the debouncer. Never blocks on diffing.
	g.Go(func() error {
		defer r.deb.Close()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-r.watch.Events():
				if !ok {
					return nil
				}
				r.deb.Observe(ev)
			}
		}
	})

	// Watch errors: fatal ones end the session, the rest are logged.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-r.watch.Errors():
				if !ok {
					return nil
				}
				if errors.Is(err, watcher.ErrWatchFatal) {
					r.logger.Printf("Fatal watch error: %v", err)
					return err
				}
				r.logger.Printf("Watch error: %v", err)
			}
		}
	})

	// Settled requests: record on the session, then dispatch or defer.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case req, ok := <-r.deb.Requests():
				if !ok {
					return nil
				}
				r.handleRequest(ctx, req)
			}
		}
	})

	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case j := <-r.jobs:
					r.compute(ctx, j)
				}
			}
		})
	}

	err := g.Wait()

	if stopErr := r.watch.Stop(); stopErr != nil {
		r.logger.Printf("Error stopping watcher: %v", stopErr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleRequest records the request and either dispatches it to the
// worker pool or, while paused, parks it in arrival order for resume.
func (r *Runner) handleRequest(ctx context.Context, req watcher.Request) {
	gen, entryID, mode := r.sess.RecordRequest(req, r.engine.Rel(req.Path))
	j := job{req: req, gen: gen, entryID: entryID, mode: mode}

	if r.sess.Paused() {
		r.mu.Lock()
		r.deferred = append(r.deferred, j)
		r.mu.Unlock()
		return
	}
	r.dispatch(ctx, j)
}

func (r *Runner) dispatch(ctx context.Context, j job) {
	select {
	case r.jobs <- j:
	case <-ctx.Done():
	}
}

// compute runs one diff job, discarding the result if a newer request
// for the path arrived in the meantime.
func (r *Runner) compute(ctx context.Context, j job) {
	if !r.sess.BeginDiff(j.req.Path, j.gen) {
		return
	}

	d, err := r.engine.Compute(ctx, j.req.Path, j.mode, r.sess.ContextLines())
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Printf("Diff failed for %s: %v", j.req.Path, err)
		}
		return
	}

	// A removal that produced nothing to show means the file was never
	// tracked: drop its record instead of publishing an empty result.
	if j.req.Op == watcher.OpRemove && emptyDiff(d) {
		if r.sess.Forget(j.req.Path, j.gen) && r.OnUpdate != nil {
			r.OnUpdate(r.sess.Snapshot())
		}
		return
	}

	if !r.sess.Publish(j.req.Path, j.gen, j.entryID, d) {
		return
	}

	if r.OnUpdate != nil {
		r.OnUpdate(r.sess.Snapshot())
	}
}

// emptyDiff reports whether d carries nothing worth keeping a file
// record for: no hunks and none of the flags that explain their absence.
func emptyDiff(d *gitdiff.FileDiff) bool {
	return len(d.Hunks) == 0 && !d.Deleted && !d.Binary && !d.Unavailable &&
		d.Oversize == gitdiff.OversizeNone
}

// TogglePause flips the session pause flag. On resume, every request
// deferred while paused is dispatched in the order its quiet period
// elapsed; superseded ones are discarded by their stale generation.
func (r *Runner) TogglePause(ctx context.Context) bool {
	paused := r.sess.TogglePause()
	if paused {
		return true
	}

	r.mu.Lock()
	parked := r.deferred
	r.deferred = nil
	r.mu.Unlock()

	for _, j := range parked {
		r.dispatch(ctx, j)
	}
	return false
}

// CycleMode advances the diff mode and returns it. Existing results are
// marked stale by the session; subsequent requests diff under the new
// mode.
func (r *Runner) CycleMode() gitdiff.Mode {
	return r.sess.CycleMode()
}
