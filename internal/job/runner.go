package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
	"github.com/pvcarvalho/avaria-api/internal/progress"
	"github.com/pvcarvalho/avaria-api/internal/report"
)

// ErrBusy is returned when a job is already running. Only one job may hold
// the shared progress record at a time.
var ErrBusy = errors.New("job: a job is already running")

// Options bound a single run. Zero values fall back to the defaults below.
type Options struct {
	BatchSize  int
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

const (
	defaultBatchSize  = 10
	defaultWorkers    = 4
	defaultMaxRetries = 3
	defaultRetryDelay = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	return o
}

// Runner executes at most one analysis job at a time.
type Runner struct {
	baseCtx context.Context
	tracker *progress.Tracker
	reports *report.Service
	jobs    Repository
	logger  *slog.Logger

	mu     sync.Mutex
	active bool
}

func NewRunner(baseCtx context.Context, tracker *progress.Tracker, reports *report.Service, jobs Repository, logger *slog.Logger) *Runner {
	return &Runner{
		baseCtx: baseCtx,
		tracker: tracker,
		reports: reports,
		jobs:    jobs,
		logger:  logger,
	}
}

// Active reports whether a job currently holds the run slot.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start claims the single run slot, resets the shared progress record and
// launches the job in the background. It returns ErrBusy without touching
// the progress record if another job is still running. The returned Job is
// a detached copy: the background run keeps mutating its own record, so
// callers can read or marshal the result freely.
func (r *Runner) Start(ctx context.Context, a analyzer.Analyzer, items []WorkItem, opts Options) (*Job, error) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.active = true
	r.mu.Unlock()

	opts = opts.withDefaults()

	j := &Job{
		ID:         uuid.NewString(),
		Status:     StatusRunning,
		TotalItems: len(items),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.jobs.Create(ctx, j); err != nil {
		r.release()
		return nil, fmt.Errorf("create job: %w", err)
	}

	if len(items) == 0 {
		r.tracker.Reset(0, "Starting analysis")
		r.tracker.Complete("No new images to process")
		j.Status = StatusCompleted
		j.UpdatedAt = time.Now().UTC()
		if err := r.jobs.Update(ctx, j); err != nil {
			r.logger.Error("update job", "jobId", j.ID, "error", err)
		}
		r.release()
		started := *j
		return &started, nil
	}

	r.tracker.Reset(len(items), fmt.Sprintf("Analyzing %d images", len(items)))

	started := *j
	go func() {
		defer r.release()
		r.run(r.baseCtx, j, a, items, opts)
	}()

	return &started, nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
}

// run walks the batches sequentially, fanning each batch out to a bounded
// worker pool. Whatever was resolved before a systemic failure is persisted.
func (r *Runner) run(ctx context.Context, j *Job, a analyzer.Analyzer, items []WorkItem, opts Options) {
	started := time.Now()

	var (
		collectMu sync.Mutex
		rows      []report.Row
		processed []string
		tokens    int64
		failed    int
	)

	var runErr error
	for _, batch := range splitBatches(items, opts.BatchSize) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)

		for _, item := range batch {
			g.Go(func() error {
				result, err := r.processItem(gctx, a, item, opts)
				if err != nil {
					// Systemic: abort the job, retrying other items cannot help.
					if errors.Is(err, analyzer.ErrUnauthorized) || gctx.Err() != nil {
						return err
					}
					// Exhausted retries: record the failure and move on.
					collectMu.Lock()
					rows = append(rows, report.Row{
						Category:  analyzer.CategoryError,
						Product:   item.Name,
						Details:   err.Error(),
						ImagePath: item.Name,
					})
					processed = append(processed, item.Name)
					failed++
					collectMu.Unlock()
					r.tracker.ItemDone(fmt.Sprintf("%s: failed: %v", item.Name, err))
					return nil
				}

				collectMu.Lock()
				rows = append(rows, resultRows(item, result)...)
				processed = append(processed, item.Name)
				tokens += result.TokensUsed
				collectMu.Unlock()
				r.tracker.ItemDone(fmt.Sprintf("%s: %s", item.Name, result.Category))
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			runErr = err
			break
		}
	}

	collectMu.Lock()
	resolved := len(processed)
	collectMu.Unlock()

	// Persist even when ctx was cancelled mid-run: partial results are the
	// whole point of stopping gracefully.
	saveCtx := context.WithoutCancel(ctx)
	if err := r.reports.SaveRun(saveCtx, rows, processed, tokens, a.Provider()); err != nil {
		r.logger.Error("persist run results", "jobId", j.ID, "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	j.ProcessedItems = resolved
	j.FailedItems = failed
	j.TokensUsed = tokens
	j.UpdatedAt = time.Now().UTC()

	if runErr != nil {
		j.Status = StatusFailed
		j.Error = runErr.Error()
		r.tracker.Fail(fmt.Sprintf("Job failed: %v", runErr))
		r.logger.Error("job failed",
			"jobId", j.ID, "resolved", resolved, "total", len(items), "error", runErr)
	} else {
		j.Status = StatusCompleted
		r.tracker.Complete(fmt.Sprintf("Completed: %d images in %s", resolved, time.Since(started).Round(time.Second)))
		r.logger.Info("job completed",
			"jobId", j.ID, "resolved", resolved, "failed", failed,
			"tokens", tokens, "duration", time.Since(started))
	}

	if err := r.jobs.Update(saveCtx, j); err != nil {
		r.logger.Error("update job", "jobId", j.ID, "error", err)
	}
}

// processItem analyzes one image with up to MaxRetries+1 attempts and a
// fixed delay between them. It returns an error only when retries are
// exhausted, the failure is permanent, or the failure is systemic.
func (r *Runner) processItem(ctx context.Context, a analyzer.Analyzer, item WorkItem, opts Options) (*analyzer.Result, error) {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return nil, analyzer.Permanent(fmt.Errorf("read image: %w", err))
	}

	req := analyzer.Request{
		Name:       item.Name,
		ImageBytes: data,
		MIMEType:   item.MIMEType,
		Context:    item.Context,
	}

	attempts := opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := a.Analyze(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, analyzer.ErrUnauthorized) || ctx.Err() != nil {
			return nil, err
		}

		r.tracker.Log("%s: attempt %d/%d failed: %v", item.Name, attempt, attempts, err)

		if analyzer.IsPermanent(err) {
			break
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
	}
	return nil, lastErr
}

// resultRows flattens one analysis result into report rows, one per
// extracted product. A result without items still yields a single row so
// the image shows up in the report.
func resultRows(item WorkItem, result *analyzer.Result) []report.Row {
	if len(result.Items) == 0 {
		return []report.Row{{
			Category:  result.Category,
			Details:   result.Details,
			ImagePath: item.Name,
		}}
	}

	rows := make([]report.Row, 0, len(result.Items))
	for _, it := range result.Items {
		rows = append(rows, report.Row{
			Category:  result.Category,
			Product:   describeItem(it),
			Details:   result.Details,
			ImagePath: item.Name,
		})
	}
	return rows
}

func describeItem(it analyzer.Item) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{it.Product, it.Weight, it.Brand} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
