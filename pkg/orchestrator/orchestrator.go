// Package orchestrator fans out multiple chunked fetch pipelines
// concurrently. Concurrency is per task; within one task the chunk
// order stays strictly sequential, so the rate limiter's timing model
// holds even when two tasks hit the same api_type at once.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/sellerpulse/marketfetch/pkg/aggregate"
	"github.com/sellerpulse/marketfetch/pkg/availability"
	"github.com/sellerpulse/marketfetch/pkg/chunker"
	"github.com/sellerpulse/marketfetch/pkg/fetcher"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketfetch_orchestrator_runs_total",
		Help: "Orchestrator runs by strategy and result",
	}, []string{"strategy", "result"})

	fallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketfetch_orchestrator_fallbacks_total",
		Help: "Concurrent batches that fell back to sequential execution",
	})
)

// Task is one logical data source in a run: a named fetch function
// bound to an api_type.
type Task struct {
	Name    string
	APIType string
	Fn      fetcher.FetchFunc

	// Options are passed through to the fetcher. Optional.
	Options *fetcher.Options

	// Identity overrides the dedup identity function. Optional.
	Identity aggregate.IdentityFunc
}

// TaskResult carries one task's outcome. Err is set when the task's
// fetch aborted; the partial report and its aggregate still accompany
// it.
type TaskResult struct {
	Name    string
	APIType string
	Report  *fetcher.Report
	Data    *aggregate.Result
	Err     error
}

// Result is the outcome of one orchestrator run.
type Result struct {
	OpID       string
	Strategy   string
	Sequential bool // true when the fallback path produced this result
	Tasks      []TaskResult
}

// Failed counts the tasks whose fetch aborted.
func (r *Result) Failed() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Task returns the named task's result, nil if absent.
func (r *Result) Task(name string) *TaskResult {
	for i := range r.Tasks {
		if r.Tasks[i].Name == name {
			return &r.Tasks[i]
		}
	}
	return nil
}

// Config holds the orchestrator settings.
type Config struct {
	// ShortRangeDays is the strategy threshold: ranges at or under it
	// run as direct calls, anything longer as chunked pipelines.
	ShortRangeDays int

	// MaxConcurrent bounds how many tasks run at once.
	MaxConcurrent int

	// OperationTimeout bounds one whole run. Zero means no deadline.
	OperationTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		ShortRangeDays: 7,
		MaxConcurrent:  4,
	}
}

// Orchestrator runs batches of fetch tasks. Safe for concurrent use.
type Orchestrator struct {
	fetcher *fetcher.Fetcher
	latch   *availability.Registry
	cfg     Config
	logger  zerolog.Logger

	// parallel runs the concurrent batch; swapped out in tests to force
	// the sequential fallback.
	parallel func(ctx context.Context, from, to time.Time, tasks []Task, logger zerolog.Logger) []TaskResult
}

// New creates an orchestrator on top of a shared fetcher and latch
// registry.
func New(f *fetcher.Fetcher, latch *availability.Registry, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.ShortRangeDays <= 0 {
		cfg.ShortRangeDays = 7
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	o := &Orchestrator{
		fetcher: f,
		latch:   latch,
		cfg:     cfg,
		logger:  logger,
	}
	o.parallel = o.runConcurrent
	return o
}

// Run executes every task over [from, to] and returns one result per
// task, concurrent when possible. An unexpected top-level failure of
// the concurrent batch falls back to a full sequential rerun; only when
// that also fails does Run return an error, alongside whatever partial
// result the rerun produced.
func (o *Orchestrator) Run(ctx context.Context, from, to time.Time, tasks []Task) (*Result, error) {
	if len(tasks) == 0 {
		return &Result{OpID: uuid.NewString()}, nil
	}

	if o.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.OperationTimeout)
		defer cancel()
	}

	total := chunker.DateRange{From: chunker.Day(from), To: chunker.Day(to)}
	strategy := "chunked"
	if total.Days() <= o.cfg.ShortRangeDays {
		strategy = "direct"
	}

	opID := uuid.NewString()
	logger := o.logger.With().
		Str("op_id", opID).
		Str("strategy", strategy).
		Int("tasks", len(tasks)).
		Logger()

	o.warnUnavailable(tasks, logger)

	results, batchErr := o.tryConcurrent(ctx, from, to, tasks, logger)
	if batchErr != nil {
		fallbacksTotal.Inc()
		logger.Error().Err(batchErr).Msg("Concurrent batch failed, rerunning sequentially")

		results = o.runSequential(ctx, from, to, tasks, logger)
		res := &Result{OpID: opID, Strategy: strategy, Sequential: true, Tasks: results}
		if err := ctx.Err(); err != nil {
			runsTotal.WithLabelValues(strategy, "error").Inc()
			return res, fmt.Errorf("sequential fallback: %w", err)
		}
		runsTotal.WithLabelValues(strategy, "fallback").Inc()
		logger.Info().Int("failed_tasks", res.Failed()).Msg("Sequential fallback complete")
		return res, nil
	}

	res := &Result{OpID: opID, Strategy: strategy, Tasks: results}
	runsTotal.WithLabelValues(strategy, "ok").Inc()
	logger.Info().Int("failed_tasks", res.Failed()).Msg("Orchestrator run complete")
	return res, nil
}

// tryConcurrent shields Run from a panicking batch. Individual task
// panics are already contained per goroutine; this catches failures of
// the batch machinery itself.
func (o *Orchestrator) tryConcurrent(ctx context.Context, from, to time.Time, tasks []Task, logger zerolog.Logger) (results []TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("concurrent batch panic: %v", r)
		}
	}()
	return o.parallel(ctx, from, to, tasks, logger), nil
}

func (o *Orchestrator) runConcurrent(ctx context.Context, from, to time.Time, tasks []Task, logger zerolog.Logger) []TaskResult {
	results := make([]TaskResult, len(tasks))
	p := pool.New().WithMaxGoroutines(o.cfg.MaxConcurrent)
	for i, task := range tasks {
		p.Go(func() {
			results[i] = o.runTask(ctx, from, to, task, logger)
		})
	}
	p.Wait()
	return results
}

func (o *Orchestrator) runSequential(ctx context.Context, from, to time.Time, tasks []Task, logger zerolog.Logger) []TaskResult {
	results := make([]TaskResult, len(tasks))
	for i, task := range tasks {
		results[i] = o.runTask(ctx, from, to, task, logger)
	}
	return results
}

// runTask executes one task and never lets a panic escape: a broken
// fetch function fails its own task, not its siblings.
func (o *Orchestrator) runTask(ctx context.Context, from, to time.Time, task Task, logger zerolog.Logger) (res TaskResult) {
	res = TaskResult{Name: task.Name, APIType: task.APIType}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("task", task.Name).
				Interface("panic", r).
				Msg("Task panicked")
			res.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()

	report, err := o.fetcher.FetchAll(ctx, task.APIType, from, to, task.Fn, task.Options)
	res.Report = report
	res.Err = err
	if report != nil {
		identity := task.Identity
		if identity == nil {
			identity = aggregate.DefaultIdentity
		}
		res.Data = aggregate.Dedup(report.RecordLists(), identity, logger)
	}
	return res
}

func (o *Orchestrator) warnUnavailable(tasks []Task, logger zerolog.Logger) {
	seen := make(map[string]bool)
	for _, task := range tasks {
		api := fetcher.LatchKey(task.APIType)
		if task.Options != nil && task.Options.API != "" {
			api = task.Options.API
		}
		if seen[api] {
			continue
		}
		seen[api] = true
		if st := o.latch.State(api); st.Status == availability.Unavailable {
			logger.Warn().
				Str("api", api).
				Str("reason", st.Reason).
				Msg("Scheduling tasks against an unavailable API")
		}
	}
}
