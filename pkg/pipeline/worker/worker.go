// Package worker runs a processor over a slice of items with bounded
// concurrency, global rate limiting and retry with capped exponential backoff.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/shpitdev/outreach-enricher/pkg/pipeline/core"
	"golang.org/x/time/rate"
)

type FailurePolicy int

const (
	// FailurePolicyRecord keeps going on item errors and records them per-item.
	FailurePolicyRecord FailurePolicy = iota
	// FailurePolicyFailFast cancels the run on the first item error.
	FailurePolicyFailFast
)

// Backoff configures retry sleeps for transient failures.
type Backoff struct {
	// Initial is the sleep before the first retry.
	Initial time.Duration
	// Max caps the exponential growth.
	Max time.Duration
	// JitterFrac applies +/- jitter to sleeps (0.2 = +/-20%).
	JitterFrac float64
}

type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimit is a global requests-per-second limit shared by all workers.
	// Zero or negative disables it. A burst of 1 makes the limiter behave as
	// a mandatory inter-request delay of 1/RateLimit seconds.
	RateLimit float64

	FailurePolicy FailurePolicy
	Backoff       Backoff
}

// Result holds the outcome for one input item.
type Result[In any, Out any] struct {
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.Backoff.Initial <= 0 {
		o.Backoff.Initial = 500 * time.Millisecond
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = 8 * time.Second
	}
	if o.Backoff.JitterFrac <= 0 {
		o.Backoff.JitterFrac = 0.2
	}
	return o
}

// Run processes all items and returns results in input order.
func Run[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return RunWithCallback(ctx, items, fn, nil, opts)
}

// RunWithCallback processes all items and invokes onDone as each item
// completes. onDone runs in a single goroutine in completion order, so it may
// safely append to a shared store without further locking. A non-nil error
// from onDone cancels the run.
func RunWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	onDone func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	out := make([]Result[In, Out], len(items))

	type job struct {
		idx int
		in  In
	}
	type completion struct {
		idx int
		res Result[In, Out]
	}

	jobs := make(chan job)
	done := make(chan completion, opts.Workers)

	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	workerFn := func() {
		defer wg.Done()
		for j := range jobs {
			if runCtx.Err() != nil {
				return
			}
			res := attemptAll(runCtx, j.in, fn, limiter, opts)
			select {
			case done <- completion{idx: j.idx, res: res}:
			case <-runCtx.Done():
				return
			}
			if res.Err != nil && opts.FailurePolicy == FailurePolicyFailFast {
				fail(res.Err)
				return
			}
		}
	}

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go workerFn()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	for c := range done {
		out[c.idx] = c.res
		if onDone != nil {
			if err := onDone(c.res); err != nil {
				fail(err)
			}
		}
	}

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func attemptAll[In any, Out any](
	ctx context.Context,
	item In,
	fn func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) Result[In, Out] {
	var lastOut Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[In, Out]{Input: item, Output: lastOut, Err: err}
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return Result[In, Out]{Input: item, Output: lastOut, Err: err}
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		}
		res, err := fn(reqCtx, item)
		lastOut = res
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return Result[In, Out]{Input: item, Output: res}
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Result[In, Out]{Input: item, Output: lastOut, Err: ctx.Err()}
		}
		if !IsTransient(err) || attempt >= retryBudget(opts.MaxRetries, err) {
			return Result[In, Out]{Input: item, Output: lastOut, Err: err}
		}

		sleep := backoffSleep(opts.Backoff, attempt)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Result[In, Out]{Input: item, Output: lastOut, Err: ctx.Err()}
		}
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

func retryBudget(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := capErr.MaxExtraRetries()
		if limited < 0 {
			limited = 0
		}
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout() || ne.Temporary()
	}
	return false
}

func backoffSleep(b Backoff, attempt int) time.Duration {
	sleep := b.Initial
	for i := 0; i < attempt && sleep < b.Max; i++ {
		sleep *= 2
		if sleep > b.Max {
			sleep = b.Max
			break
		}
	}
	if b.JitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*b.JitterFrac
	return time.Duration(float64(sleep) * j)
}
