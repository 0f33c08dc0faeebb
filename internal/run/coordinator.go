// Package run drives work items from pending to a terminal state: fetch,
// enrich, record, one checkpointed row at a time.
package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/outreach-enricher/internal/enrich"
	"github.com/shpitdev/outreach-enricher/internal/table"
	"github.com/shpitdev/outreach-enricher/pkg/pipeline/checkpoint"
	"github.com/shpitdev/outreach-enricher/pkg/pipeline/worker"
)

// Fetcher converts a website identifier into extracted page text.
type Fetcher interface {
	Fetch(ctx context.Context, identifier string) (string, error)
}

const maxDelay = 30 * time.Second

type Options struct {
	// Workers bounds concurrent item processing. Defaults to 1: the batch is
	// throttled on purpose, the remote endpoints rate-limit per caller.
	Workers int
	// MaxRetries is the backoff budget for transient remote-call failures
	// within one item. It never re-runs an item recorded as failed.
	MaxRetries int
	// RequestTimeout bounds one processing attempt (fetch + enrich calls).
	RequestTimeout time.Duration
	// Delay is the mandatory pause between items, capped at 30s.
	Delay time.Duration
	// RetryFailed treats checkpointed failed rows as pending again. This is
	// the explicit user action; failed rows are never retried implicitly.
	RetryFailed bool
	// FailFast aborts the run on the first item error instead of recording it.
	FailFast bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 90 * time.Second
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Delay > maxDelay {
		o.Delay = maxDelay
	}
	return o
}

// Coordinator owns the work item list, per-item states and the checkpoint.
// Fetch and enrich stay behind pure-function collaborators.
type Coordinator struct {
	fetcher  Fetcher
	enricher enrich.Enricher
	log      *zap.Logger
	opts     Options
}

func New(fetcher Fetcher, enricher enrich.Enricher, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher:  fetcher,
		enricher: enricher,
		log:      logger,
		opts:     opts.withDefaults(),
	}
}

// Status is a point-in-time snapshot of a run.
type Status struct {
	// Processed counts resolved identifiers (succeeded + failed), including
	// those seeded from the checkpoint on resume.
	Processed int
	Total     int
	Succeeded int
	Failed    int
	Skipped   int

	LastIdentifier string
	Paused         bool
	Done           bool
}

// Run is the handle for one batch run. A paused run holds no goroutines;
// Resume re-derives pending work from the checkpoint, not from stale memory.
type Run struct {
	coord *Coordinator
	ckpt  *checkpoint.Log

	mu       sync.Mutex
	states   map[string]State
	order    []string
	items    map[string]table.Item
	skipped  int
	last     string
	running  bool
	paused   bool
	pauseReq bool
	finished bool
	runErr   error
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start validates and dedups items, seeds states from the checkpoint and
// begins processing. Blank identifiers are skipped before the loop and never
// recorded; duplicate identifiers keep their first occurrence only.
func (c *Coordinator) Start(ctx context.Context, items []table.Item, ckpt *checkpoint.Log) (*Run, error) {
	if ckpt == nil {
		return nil, errors.New("run: nil checkpoint")
	}
	if len(items) == 0 {
		return nil, errors.New("run: no work items")
	}

	r := &Run{
		coord:  c,
		ckpt:   ckpt,
		states: make(map[string]State),
		items:  make(map[string]table.Item),
	}

	for _, item := range items {
		id := strings.TrimSpace(item.Identifier)
		if id == "" {
			r.skipped++
			continue
		}
		if _, seen := r.states[id]; seen {
			continue
		}
		item.Identifier = id
		r.items[id] = item
		r.order = append(r.order, id)

		rec, resolved := ckpt.Get(id)
		if !resolved {
			r.states[id] = StatePending
			continue
		}
		st := rowState(rec)
		if st == StateFailed && c.opts.RetryFailed {
			ckpt.Forget(id)
			r.states[id] = StatePending
			continue
		}
		r.states[id] = st
		r.last = id
	}

	c.log.Info("run start",
		zap.Int("total", len(r.order)),
		zap.Int("resumed", r.resolvedLocked()),
		zap.Int("skipped", r.skipped),
		zap.Int("workers", c.opts.Workers),
		zap.Duration("delay", c.opts.Delay),
	)

	r.start(ctx)
	return r, nil
}

// start launches one processing leg over the currently pending items.
// Callers other than Start must hold no locks.
func (r *Run) start(ctx context.Context) {
	r.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.paused = false
	r.pauseReq = false

	// Pending is re-derived from checkpoint contents, never from a cursor
	// that might be stale after a pause or restart.
	var pending []table.Item
	for _, id := range r.order {
		if r.ckpt.Contains(id) {
			continue
		}
		if r.states[id].terminal() {
			continue
		}
		pending = append(pending, r.items[id])
	}
	r.mu.Unlock()

	go r.loop(runCtx, pending)
}

func (r *Run) loop(ctx context.Context, pending []table.Item) {
	defer close(r.done)

	opts := r.coord.opts
	wopts := worker.Options{
		Workers:        opts.Workers,
		MaxRetries:     opts.MaxRetries,
		RequestTimeout: opts.RequestTimeout,
	}
	if opts.FailFast {
		wopts.FailurePolicy = worker.FailurePolicyFailFast
	}
	if opts.Delay > 0 {
		// One token per delay interval: the limiter is the mandatory
		// inter-item pause, and its wait is cancellable so Pause is
		// observable within a single tick.
		wopts.RateLimit = 1 / opts.Delay.Seconds()
	}

	_, err := worker.RunWithCallback(ctx, pending, r.processOne, r.record, wopts)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	switch {
	case err == nil:
		r.finished = true
	case errors.Is(err, context.Canceled) && r.pauseReq:
		r.paused = true
	default:
		r.finished = true
		r.runErr = err
	}
}

// processOne fetches then enriches one item. It always returns a tagged
// error value; nothing propagates past this boundary.
func (r *Run) processOne(ctx context.Context, item table.Item) (enrich.Result, error) {
	r.setState(item.Identifier, StateInFlight)
	log := r.coord.log.With(zap.String("website", item.Identifier))
	start := time.Now()

	text, err := r.coord.fetcher.Fetch(ctx, item.Identifier)
	if err != nil {
		log.Warn("fetch failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return enrich.Result{}.Normalize(), err
	}

	res, err := r.coord.enricher.Enrich(ctx, item.Identifier, text)
	if err != nil {
		log.Warn("enrich failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return res.Normalize(), fmt.Errorf("enrich %s: %w", item.Identifier, err)
	}

	log.Info("item enriched", zap.Duration("duration", time.Since(start)))
	return res.Normalize(), nil
}

// record appends one completed item to the checkpoint and advances state.
// It runs on the worker pool's single drain goroutine, so checkpoint writes
// have exactly one writer.
func (r *Run) record(res worker.Result[table.Item, enrich.Result]) error {
	id := res.Input.Identifier

	// A cancelled in-flight item is the one allowed loss on pause: it stays
	// pending and is reprocessed on resume.
	if res.Err != nil && errors.Is(res.Err, context.Canceled) {
		r.setState(id, StatePending)
		return nil
	}

	row := buildRow(res.Input, res.Output, res.Err)
	if err := r.ckpt.Append(row.record()); err != nil {
		return fmt.Errorf("checkpoint append %s: %w", id, err)
	}

	r.mu.Lock()
	if res.Err != nil {
		r.states[id] = StateFailed
	} else {
		r.states[id] = StateSucceeded
	}
	r.last = id
	processed := r.resolvedLocked()
	total := len(r.order)
	r.mu.Unlock()

	r.coord.log.Info("item recorded",
		zap.String("website", id),
		zap.String("status", row.Status),
		zap.Int("processed", processed),
		zap.Int("total", total),
	)
	return nil
}

// Pause stops the run at an item boundary and blocks until workers drain.
// The checkpoint is never touched mid-write.
func (r *Run) Pause() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.pauseReq = true
	r.cancel()
	done := r.done
	r.mu.Unlock()
	<-done
}

// Resume continues a paused run from checkpoint contents.
func (r *Run) Resume(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("run: already running")
	}
	if r.finished {
		r.mu.Unlock()
		return errors.New("run: already finished")
	}
	r.mu.Unlock()

	r.start(ctx)
	return nil
}

// Wait blocks until the current leg drains and returns the run error, if
// any. After a Pause it returns nil with the run resumable.
func (r *Run) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Total:          len(r.order),
		Skipped:        r.skipped,
		LastIdentifier: r.last,
		Paused:         r.paused,
		Done:           r.finished,
	}
	for _, s := range r.states {
		switch s {
		case StateSucceeded:
			st.Succeeded++
		case StateFailed:
			st.Failed++
		}
	}
	st.Processed = st.Succeeded + st.Failed
	return st
}

func (r *Run) setState(id string, s State) {
	r.mu.Lock()
	r.states[id] = s
	r.mu.Unlock()
}

func (r *Run) resolvedLocked() int {
	n := 0
	for _, s := range r.states {
		if s == StateSucceeded || s == StateFailed {
			n++
		}
	}
	return n
}
