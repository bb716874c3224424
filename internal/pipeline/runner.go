// Package pipeline provides end-to-end run orchestration.
// It coordinates: candle fetch → quality gate → feature compute → persist
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/features"
	"token-feature-lab/internal/observability"
	"token-feature-lab/internal/quality"
	"token-feature-lab/internal/resilience"
	"token-feature-lab/internal/scheduler"
	"token-feature-lab/internal/storage"
)

// DefaultFetchLimit bounds the candle window fetched per task.
const DefaultFetchLimit = 500

// Options for creating a Runner.
type Options struct {
	// Required stores
	CandleStore  storage.CandleStore
	FeatureStore storage.FeatureStore

	// Refresher triggers the latest-view refresh after a run. Optional;
	// nil skips the refresh.
	Refresher storage.LatestFeatureRefresher

	// Engine computes features. Defaults to features.NewEngine().
	Engine *features.Engine

	// Pool runs per-task compute. Defaults to a pool with default options.
	Pool *scheduler.Pool

	// Recovery applies retry strategies around storage calls. Defaults to
	// a manager with the default strategies.
	Recovery *resilience.Manager

	// Breaker guards the storage dependency. Optional; nil disables it.
	Breaker *resilience.CircuitBreaker

	// Hybrid combines the traditional quality score with an ML prediction.
	// Optional; nil reports the traditional score only.
	Hybrid *quality.HybridValidator

	// Metrics is the Prometheus surface. Optional.
	Metrics *observability.Metrics

	Logger *logrus.Logger

	// FetchLimit caps candles fetched per task. Defaults to DefaultFetchLimit.
	FetchLimit int

	// PreviousScores seeds the quality report's trend deltas.
	PreviousScores map[string]float64
}

// Runner executes one pipeline run over a set of tasks. The runner owns
// all I/O; workers are pure-compute.
type Runner struct {
	candleStore  storage.CandleStore
	featureStore storage.FeatureStore
	refresher    storage.LatestFeatureRefresher
	engine       *features.Engine
	pool         *scheduler.Pool
	recovery     *resilience.Manager
	breaker      *resilience.CircuitBreaker
	hybrid       *quality.HybridValidator
	metrics      *observability.Metrics
	logger       *logrus.Logger
	fetchLimit   int
	prevScores   map[string]float64
}

// NewRunner creates a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.CandleStore == nil {
		return nil, resilience.New(resilience.CodeConfiguration, "new runner",
			errors.New("candle store is required"))
	}
	if opts.FeatureStore == nil {
		return nil, resilience.New(resilience.CodeConfiguration, "new runner",
			errors.New("feature store is required"))
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	engine := opts.Engine
	if engine == nil {
		engine = features.NewEngine()
	}
	pool := opts.Pool
	if pool == nil {
		pool = scheduler.NewPool(scheduler.Options{Logger: logger})
	}
	recovery := opts.Recovery
	if recovery == nil {
		recovery = resilience.NewManager(logger)
	}
	fetchLimit := opts.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}

	return &Runner{
		candleStore:  opts.CandleStore,
		featureStore: opts.FeatureStore,
		refresher:    opts.Refresher,
		engine:       engine,
		pool:         pool,
		recovery:     recovery,
		breaker:      opts.Breaker,
		hybrid:       opts.Hybrid,
		metrics:      opts.Metrics,
		logger:       logger,
		fetchLimit:   fetchLimit,
		prevScores:   opts.PreviousScores,
	}, nil
}

// TaskFailure records one task's terminal failure.
type TaskFailure struct {
	Task domain.Task
	Err  *resilience.Error
}

// Summary reports how a run concluded: (succeeded/total) with failures
// broken out by severity and by error code, plus the quality report.
type Summary struct {
	Total            int
	Completed        int
	Failed           int
	RecordsPersisted int

	Failures   []TaskFailure
	BySeverity map[domain.Severity]int
	ByCode     map[resilience.Code]int

	Report *domain.QualityReport
	Hybrid *quality.HybridResult

	Duration time.Duration
}

// fetched pairs a surviving task with its validated candle window.
type fetched struct {
	task    domain.Task
	candles []*domain.Candle
}

// Run executes the full pipeline over the given tasks. A single task's
// terminal failure never aborts the run; it is recorded with severity and
// surfaced in the summary.
//
// Phases:
//  1. Fetch and validate candles per task (orchestrator-owned I/O)
//  2. Dispatch compute to the worker pool (bulkhead)
//  3. Validate and persist feature batches
//  4. Refresh the latest view and build the quality report
func (r *Runner) Run(ctx context.Context, tasks []domain.Task) (*Summary, error) {
	start := time.Now()

	summary := &Summary{
		Total:      len(tasks),
		BySeverity: make(map[domain.Severity]int),
		ByCode:     make(map[resilience.Code]int),
	}
	builder := quality.NewReportBuilder().WithPreviousScores(r.prevScores)
	validator := quality.NewValidator()
	detector := quality.NewDetector(quality.DefaultDetectorConfig())

	// Phase 1: fetch and gate candles
	var ready []fetched
	for _, task := range tasks {
		r.logTask(task, domain.TaskFetching)
		candles, ferr := r.fetchCandles(ctx, task)
		if ferr != nil {
			r.recordFailure(summary, builder, task, ferr)
			continue
		}
		if r.metrics != nil {
			r.metrics.CandlesFetched.Add(float64(len(candles)))
		}

		r.logTask(task, domain.TaskValidating)
		result := validator.ValidateCandles(candles)
		builder.AddCandleValidation(result)
		if !result.IsValid {
			verr := resilience.New(resilience.CodeDataValidation, "validate candles",
				fmt.Errorf("%d validation errors, first: %s", len(result.Errors), result.Errors[0])).
				WithTask(task.TokenID, task.Timeframe)
			r.recordFailure(summary, builder, task, verr)
			continue
		}

		anomalies := detector.Detect(task.TokenID, task.Timeframe, candles)
		builder.AddAnomalies(anomalies)
		builder.AddIntegrityChecks(quality.CheckSeriesIntegrity(task.TokenID, task.Timeframe, candles,
			expectedRowCount(task.Timeframe, candles)))
		if r.metrics != nil {
			for _, a := range anomalies {
				r.metrics.AnomaliesDetected.WithLabelValues(string(a.Type)).Inc()
			}
		}

		ready = append(ready, fetched{task: task, candles: candles})
	}

	// Phase 2: pure-compute fan-out
	jobs := make([]scheduler.Job, 0, len(ready))
	candlesByTask := make(map[domain.Task][]*domain.Candle, len(ready))
	for _, f := range ready {
		r.logTask(f.task, domain.TaskComputing)
		jobs = append(jobs, scheduler.Job{Task: f.task, Candles: f.candles})
		candlesByTask[f.task] = f.candles
	}
	results := r.pool.Dispatch(ctx, jobs, func(job scheduler.Job) ([]*domain.FeatureRecord, error) {
		return r.engine.ComputeFeatures(job.Candles, job.Task.TokenID, job.Task.Timeframe), nil
	})

	// Phase 3: validate and persist feature batches
	var allCandles []*domain.Candle
	var allRecords []*domain.FeatureRecord
	for _, res := range results {
		if r.metrics != nil {
			r.metrics.TaskDuration.WithLabelValues(string(res.Task.Timeframe)).Observe(res.Duration.Seconds())
		}
		if !res.Succeeded() {
			r.recordFailure(summary, builder, res.Task, res.Err)
			continue
		}
		if r.metrics != nil {
			r.metrics.FeaturesComputed.Add(float64(len(res.Records)))
		}

		fresult := validator.ValidateFeatures(res.Records)
		builder.AddFeatureValidation(fresult)
		if !fresult.IsValid {
			verr := resilience.New(resilience.CodeDataValidation, "validate features",
				fmt.Errorf("%d validation errors, first: %s", len(fresult.Errors), fresult.Errors[0])).
				WithTask(res.Task.TokenID, res.Task.Timeframe)
			r.recordFailure(summary, builder, res.Task, verr)
			continue
		}

		r.logTask(res.Task, domain.TaskPersisting)
		if perr := r.persistFeatures(ctx, res.Task, res.Records); perr != nil {
			r.recordFailure(summary, builder, res.Task, perr)
			continue
		}

		summary.Completed++
		summary.RecordsPersisted += len(res.Records)
		builder.AddTaskOutcome(true)
		allCandles = append(allCandles, candlesByTask[res.Task]...)
		allRecords = append(allRecords, res.Records...)
		if r.metrics != nil {
			r.metrics.FeaturesPersisted.Add(float64(len(res.Records)))
			r.metrics.TasksProcessed.WithLabelValues("done").Inc()
		}
		r.logTask(res.Task, domain.TaskDone)
	}

	// Phase 4: latest-view refresh, non-fatal on failure
	if r.refresher != nil && summary.RecordsPersisted > 0 {
		if err := r.refresher.RefreshLatest(ctx); err != nil {
			r.logger.WithError(err).Warn("latest view refresh failed")
		}
	}

	summary.Report = builder.Build()
	if r.hybrid != nil {
		hres := r.hybrid.Assess(ctx, summary.Report.OverallScore, allCandles, allRecords)
		summary.Hybrid = &hres
	}
	summary.Duration = time.Since(start)

	if r.metrics != nil {
		r.metrics.PipelineRunsTotal.Inc()
		r.metrics.PipelineDuration.Observe(summary.Duration.Seconds())
		r.metrics.QualityOverallScore.Set(summary.Report.OverallScore)
		r.metrics.QualityComponent.WithLabelValues("candles").Set(summary.Report.ComponentScores.Candles)
		r.metrics.QualityComponent.WithLabelValues("features").Set(summary.Report.ComponentScores.Features)
		r.metrics.QualityComponent.WithLabelValues("database").Set(summary.Report.ComponentScores.Database)
		r.metrics.QualityComponent.WithLabelValues("processing").Set(summary.Report.ComponentScores.Processing)
		if summary.Failed == 0 {
			r.metrics.LastSuccessfulPipeline.SetToCurrentTime()
		}
	}

	r.logger.WithFields(logrus.Fields{
		"total":     summary.Total,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"records":   summary.RecordsPersisted,
		"score":     summary.Report.OverallScore,
		"duration":  summary.Duration,
	}).Info("pipeline run completed")

	return summary, nil
}

// fetchCandles pulls the task's candle window through the breaker and
// recovery manager. Storage errors are wrapped into typed classes at this
// call site; the not-enough-data gate lives inside the recovered operation
// so the insufficient-data strategy can re-fetch once.
func (r *Runner) fetchCandles(ctx context.Context, task domain.Task) ([]*domain.Candle, *resilience.Error) {
	var candles []*domain.Candle

	op := func(ctx context.Context) error {
		call := func(ctx context.Context) error {
			got, err := r.candleStore.GetSeries(ctx, task.TokenID, task.Timeframe, r.fetchLimit)
			if err != nil {
				return wrapStorageError("fetch candles", err)
			}
			candles = got
			return nil
		}
		if err := r.guard(ctx, call); err != nil {
			return err
		}
		if len(candles) < features.MinLookback {
			return resilience.New(resilience.CodeInsufficientData, "fetch candles",
				fmt.Errorf("%d candles, need %d", len(candles), features.MinLookback))
		}
		return nil
	}

	outcome := r.recovery.Execute(ctx, "fetch candles", task.TokenID, task.Timeframe, op)
	if r.metrics != nil && outcome.Attempts > 1 {
		r.metrics.RecoveryAttempts.WithLabelValues("fetch candles").Add(float64(outcome.Attempts - 1))
	}
	if !outcome.Success {
		typed := resilience.Classify(outcome.Err).WithTask(task.TokenID, task.Timeframe)
		return nil, typed
	}
	return candles, nil
}

// persistFeatures upserts the feature batch through the breaker and
// recovery manager. The store chunks writes internally.
func (r *Runner) persistFeatures(ctx context.Context, task domain.Task, records []*domain.FeatureRecord) *resilience.Error {
	op := func(ctx context.Context) error {
		return r.guard(ctx, func(ctx context.Context) error {
			if err := r.featureStore.UpsertBulk(ctx, records); err != nil {
				return wrapStorageError("persist features", err)
			}
			return nil
		})
	}

	outcome := r.recovery.Execute(ctx, "persist features", task.TokenID, task.Timeframe, op)
	if r.metrics != nil && outcome.Attempts > 1 {
		r.metrics.RecoveryAttempts.WithLabelValues("persist features").Add(float64(outcome.Attempts - 1))
	}
	if !outcome.Success {
		return resilience.Classify(outcome.Err).WithTask(task.TokenID, task.Timeframe)
	}
	return nil
}

// guard routes a storage call through the circuit breaker when one is
// configured. A rejected call is terminal for the task: the breaker has
// already absorbed the retries that opened it.
func (r *Runner) guard(ctx context.Context, call func(ctx context.Context) error) error {
	if r.breaker == nil {
		return call(ctx)
	}
	err := r.breaker.Execute(ctx, call)
	if errors.Is(err, resilience.ErrBreakerOpen) {
		typed := resilience.New(resilience.CodeDatabaseConnection, "storage call", err)
		typed.Retryable = false
		return typed
	}
	return err
}

// wrapStorageError types a storage failure at the call site. Invalid input
// is the caller's defect, not a transient store fault. Transport failures
// take the connection class so recovery applies the longer backoff; an
// opaque remainder is treated as a query fault.
func wrapStorageError(op string, err error) error {
	if _, ok := resilience.AsTyped(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.New(resilience.CodeTimeout, op, err)
	}
	if errors.Is(err, storage.ErrInvalidInput) {
		return resilience.New(resilience.CodeDataValidation, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.New(resilience.CodeDatabaseConnection, op, err)
	}
	if typed := resilience.Classify(err); typed.Code != resilience.CodeUnknown {
		typed.Op = op
		return typed
	}
	return resilience.New(resilience.CodeDatabaseQuery, op, err)
}

// expectedRowCount derives the row count a gap-free window should have from
// its time span, so the integrity check catches bars missing inside the
// fetched window. Returns 0 (skipping the check) when the span is undefined.
func expectedRowCount(timeframe domain.Timeframe, candles []*domain.Candle) int {
	interval := timeframe.DurationMs()
	if interval <= 0 || len(candles) < 2 {
		return 0
	}
	span := candles[len(candles)-1].TimestampMs - candles[0].TimestampMs
	return int(span/interval) + 1
}

// recordFailure tallies one terminal task failure.
func (r *Runner) recordFailure(summary *Summary, builder *quality.ReportBuilder, task domain.Task, ferr *resilience.Error) {
	summary.Failed++
	summary.Failures = append(summary.Failures, TaskFailure{Task: task, Err: ferr})
	summary.BySeverity[ferr.Severity]++
	summary.ByCode[ferr.Code]++
	builder.AddTaskOutcome(false)
	if ferr.Code == resilience.CodeDatabaseConnection || ferr.Code == resilience.CodeDatabaseQuery {
		builder.AddDatabaseError()
	}

	if r.metrics != nil {
		r.metrics.TasksProcessed.WithLabelValues("failed").Inc()
		r.metrics.TaskErrors.WithLabelValues(string(ferr.Code)).Inc()
	}
	r.logger.WithFields(logrus.Fields{
		"token_id":  task.TokenID,
		"timeframe": task.Timeframe,
		"state":     domain.TaskFailed,
		"code":      ferr.Code,
		"severity":  ferr.Severity,
	}).Error("task failed")
}

func (r *Runner) logTask(task domain.Task, state domain.TaskState) {
	r.logger.WithFields(logrus.Fields{
		"token_id":  task.TokenID,
		"timeframe": task.Timeframe,
		"state":     state,
	}).Debug("task state")
}
