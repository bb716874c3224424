// Package scheduler fans (token_id, timeframe) tasks out to a bounded pool
// of pure-compute workers. Workers receive only the candle batch for their
// task and return either a feature batch or a typed error over a channel;
// no shared mutable state crosses the isolation boundary.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/resilience"
)

// Job carries one task and its candle batch into a worker.
type Job struct {
	Task    domain.Task
	Candles []*domain.Candle
}

// ComputeFunc is the pure-compute body of a worker. It must not perform
// I/O; the orchestrator owns all fetching and persisting.
type ComputeFunc func(job Job) ([]*domain.FeatureRecord, error)

// Result is the tagged outcome of one job: either Records or Err is set.
type Result struct {
	Task     domain.Task
	Records  []*domain.FeatureRecord
	Err      *resilience.Error
	Duration time.Duration
}

// Succeeded reports whether the job produced a feature batch.
func (r *Result) Succeeded() bool { return r.Err == nil }

// Options configures a Pool.
type Options struct {
	// Workers caps concurrent compute. Defaults to GOMAXPROCS, never more
	// than MaxWorkers.
	Workers int
	// TaskTimeout bounds one worker's compute time. A worker exceeding it
	// is abandoned and its task recorded as a TIMEOUT error; partial
	// results from a timed-out worker are never used.
	TaskTimeout time.Duration
	Logger      *logrus.Logger
}

// MaxWorkers is the hard cap on pool size.
const MaxWorkers = 16

// DefaultTaskTimeout bounds a single compute when Options leaves it unset.
const DefaultTaskTimeout = 30 * time.Second

// Pool is a fixed-size worker pool. Each Dispatch call is a bulkhead: it
// returns only after every worker for the batch has terminated, so batch
// N+1 never overlaps batch N.
type Pool struct {
	workers     int
	taskTimeout time.Duration
	logger      *logrus.Logger
}

// NewPool creates a Pool.
func NewPool(opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	timeout := opts.TaskTimeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pool{workers: workers, taskTimeout: timeout, logger: logger}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Dispatch runs compute for every job on the bounded pool and blocks until
// all of them have terminated. One job's failure never blocks or aborts the
// others: failures are collected into Results, not propagated. Results are
// ordered by completion, not submission.
func (p *Pool) Dispatch(ctx context.Context, jobs []Job, compute ComputeFunc) []Result {
	if len(jobs) == 0 {
		return nil
	}

	jobCh := make(chan Job)
	resultCh := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				resultCh <- p.runJob(ctx, job, compute)
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()
	close(resultCh)

	results := make([]Result, 0, len(jobs))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

// runJob executes one compute with the task timeout applied. The compute
// itself runs in a child goroutine so an overrunning worker can be
// abandoned; its eventual result is discarded.
func (p *Pool) runJob(ctx context.Context, job Job, compute ComputeFunc) Result {
	start := time.Now()

	type computed struct {
		records []*domain.FeatureRecord
		err     error
	}
	done := make(chan computed, 1)

	tctx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- computed{err: resilience.New(resilience.CodeWorker, "compute features",
					fmt.Errorf("worker panic: %v", r))}
			}
		}()
		records, err := compute(job)
		done <- computed{records: records, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			typed := resilience.Classify(out.err).WithTask(job.Task.TokenID, job.Task.Timeframe)
			return Result{Task: job.Task, Err: typed, Duration: time.Since(start)}
		}
		return Result{Task: job.Task, Records: out.records, Duration: time.Since(start)}
	case <-tctx.Done():
		err := tctx.Err()
		code := resilience.CodeTimeout
		if errors.Is(err, context.Canceled) {
			code = resilience.CodeWorker
		}
		typed := resilience.New(code, "compute features", err).WithTask(job.Task.TokenID, job.Task.Timeframe)
		typed.Timeout = p.taskTimeout
		p.logger.WithFields(logrus.Fields{
			"token_id":  job.Task.TokenID,
			"timeframe": job.Task.Timeframe,
			"timeout":   p.taskTimeout,
		}).Warn("worker abandoned")
		return Result{Task: job.Task, Err: typed, Duration: time.Since(start)}
	}
}
