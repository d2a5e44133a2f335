// Package jobs runs background work with bounded concurrency and
// fixed-delay retries. Execution is at-least-once: a failed or panicked
// attempt is retried up to MaxAttempts, so job bodies must be idempotent
// recompute-and-overwrite operations.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when submitting to a closed runner, and by jobs
// that were still queued when the runner shut down.
var ErrClosed = errors.New("jobs: runner closed")

// Status of a job.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Fn is a job body. Bodies run detached from the submitting context and
// must be idempotent, retries re-run the whole body.
type Fn func(ctx context.Context) error

// Options for the runner.
type Options struct {
	// Workers bounds concurrently running job bodies.
	Workers int

	// MaxAttempts per job. Retried only on error.
	MaxAttempts int

	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration

	// Logger receives attempt failures and recovered panics.
	Logger *slog.Logger
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	Workers:     2,
	MaxAttempts: 3,
	RetryDelay:  60 * time.Second,
}

// Job is a handle to submitted work.
type Job struct {
	id     string
	name   string
	status atomic.Int32

	mu  sync.Mutex
	err error

	done chan struct{}
}

// ID returns the job's unique id.
func (j *Job) ID() string { return j.id }

// Name returns the name given at submission.
func (j *Job) Name() string { return j.name }

// Status returns the job's current status.
func (j *Job) Status() Status { return Status(j.status.Load()) }

// Err returns the job's final error. It is nil until the job finished.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done returns a channel closed when the job finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finished or ctx is canceled, returning the
// job's final error.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()

	if err != nil {
		j.status.Store(int32(StatusFailed))
	} else {
		j.status.Store(int32(StatusSucceeded))
	}

	close(j.done)
}

// Runner executes jobs on a semaphore-bounded pool of goroutines.
type Runner struct {
	opts   Options
	sem    *semaphore.Weighted
	logger *slog.Logger

	// admitCtx is canceled at Close so queued jobs fail fast instead of
	// waiting for a worker slot.
	admitCtx    context.Context
	cancelAdmit context.CancelFunc
	closeCh     chan struct{}

	mu   sync.Mutex
	jobs map[string]*Job

	// submitMu orders Submit's wg.Add against Close's wg.Wait.
	submitMu sync.RWMutex
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewRunner creates a runner.
func NewRunner(optFns ...func(o *Options)) *Runner {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions.Workers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions.MaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	admitCtx, cancelAdmit := context.WithCancel(context.Background())

	return &Runner{
		opts:        opts,
		sem:         semaphore.NewWeighted(int64(opts.Workers)),
		logger:      opts.Logger,
		admitCtx:    admitCtx,
		cancelAdmit: cancelAdmit,
		closeCh:     make(chan struct{}),
		jobs:        make(map[string]*Job),
	}
}

// Submit enqueues fn and returns its handle. The job starts as soon as a
// worker slot frees up; Submit itself never blocks on the pool.
func (r *Runner) Submit(ctx context.Context, name string, fn Fn) (*Job, error) {
	r.submitMu.RLock()
	defer r.submitMu.RUnlock()

	if r.closed.Load() {
		return nil, ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j := &Job{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.jobs[j.id] = j
	r.mu.Unlock()

	r.wg.Add(1)
	GoSafe(r.logger, func() {
		r.execute(j, fn)
	})

	return j, nil
}

// Get returns the handle of a previously submitted job.
func (r *Runner) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	return j, ok
}

func (r *Runner) execute(j *Job, fn Fn) {
	defer r.wg.Done()

	if err := r.sem.Acquire(r.admitCtx, 1); err != nil {
		j.finish(fmt.Errorf("jobs: job %s never started: %w", j.id, ErrClosed))
		return
	}
	defer r.sem.Release(1)

	j.status.Store(int32(StatusRunning))

	var lastErr error

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		lastErr = runAttempt(fn)
		if lastErr == nil {
			j.finish(nil)
			return
		}

		r.logger.Warn("job attempt failed",
			"job_id", j.id,
			"job_name", j.name,
			"attempt", attempt,
			"max_attempts", r.opts.MaxAttempts,
			"error", lastErr,
		)

		if attempt == r.opts.MaxAttempts {
			break
		}

		select {
		case <-time.After(r.opts.RetryDelay):
		case <-r.closeCh:
			j.finish(fmt.Errorf("jobs: runner closed during retry wait: %w", lastErr))
			return
		}
	}

	j.finish(lastErr)
}

// runAttempt runs one attempt, converting a panic into an error so it
// counts as a failed attempt.
func runAttempt(fn Fn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: panic in job body: %v\n%s", r, debug.Stack())
		}
	}()

	return fn(context.Background())
}

// Close stops admission and drains: queued jobs fail fast, running
// bodies finish their current attempt, retry waits are cut short.
// Close is idempotent.
func (r *Runner) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.submitMu.Lock()
	r.cancelAdmit()
	close(r.closeCh)
	r.submitMu.Unlock()

	r.wg.Wait()

	return nil
}
