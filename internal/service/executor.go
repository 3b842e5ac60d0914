package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Johnshah/My/config"
	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/domain/phase"
	apperrors "github.com/Johnshah/My/internal/errors"
	"github.com/Johnshah/My/internal/observability/metrics"
	"github.com/Johnshah/My/internal/observability/statsd"
)

// ErrExecutorClosed is returned by Submit after Shutdown has begun.
var ErrExecutorClosed = errors.New("executor is shutting down")

// finalizeTimeout bounds the write that fails a job interrupted by shutdown.
const finalizeTimeout = 5 * time.Second

// Collaborators groups the external capabilities a run delegates to.
type Collaborators struct {
	Analyzer  core.SourceAnalyzer // Optional: required only for jobs with a source
	Generator core.Generator      // Required
	Builder   core.Builder        // Required
}

// ExecutorOptions groups dependencies for Executor.
type ExecutorOptions struct {
	Jobs          core.JobRepository     // Required: job record store
	Publisher     core.ProgressPublisher // Required: progress fan-out
	Collaborators Collaborators          // Required: generator and builder
	Tables        *phase.Tables          // Optional: defaults to phase.DefaultTables()
	Config        config.ExecutorConfig  // Optional: zero values are sanitized
	InstanceID    string                 // Optional: owner recorded on created jobs
	Metrics       statsd.Sink            // Optional: job lifecycle metrics
	Logger        *slog.Logger           // Optional: structured logger
	Clock         func() time.Time       // Optional: time source for tests
}

// Executor accepts generation requests and runs each accepted job in the
// background. It is the only writer of the records it creates.
type Executor struct {
	jobs      core.JobRepository
	publisher core.ProgressPublisher
	collab    Collaborators
	tables    *phase.Tables
	cfg       config.ExecutorConfig
	owner     string
	metrics   statsd.Sink
	logger    *slog.Logger
	now       func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	queued  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewExecutor validates its dependencies and the phase tables for every mode.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("ProgressPublisher is required")
	}
	if opts.Collaborators.Generator == nil {
		return nil, errors.New("Generator is required")
	}
	if opts.Collaborators.Builder == nil {
		return nil, errors.New("Builder is required")
	}

	tables := opts.Tables
	if tables == nil {
		tables = phase.DefaultTables()
	}
	for _, mode := range []model.JobMode{model.JobModeStandard, model.JobModeDeep} {
		if _, ok := tables.ForMode(mode); !ok {
			return nil, fmt.Errorf("%w: no table for mode %s", phase.ErrInvalidTable, mode)
		}
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	group := &errgroup.Group{}
	group.SetLimit(cfg.MaxConcurrentJobs)

	e := &Executor{
		jobs:      opts.Jobs,
		publisher: opts.Publisher,
		collab:    opts.Collaborators,
		tables:    tables,
		cfg:       cfg,
		owner:     opts.InstanceID,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "executor"),
		now:       now,
		baseCtx:   baseCtx,
		cancel:    cancel,
		group:     group,
	}
	e.logger.Debug("Executor initialized",
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
		"collaborator_timeout", cfg.CollaboratorTimeout,
		"owner", e.owner)
	return e, nil
}

// Submit validates req, probes its source if any, creates a pending Job
// Record and schedules the run. Nothing is stored when validation or the
// probe fails.
func (e *Executor) Submit(ctx context.Context, req model.SubmitRequest) (*model.Job, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.Source != nil {
		if err := e.probe(ctx, *req.Source); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrExecutorClosed
	}

	now := e.now()
	job := &model.Job{
		ID:        uuid.NewString(),
		Mode:      req.Mode,
		Status:    model.JobStatusPending,
		Message:   "Queued",
		Prompt:    req.Prompt,
		AppName:   req.AppName,
		Platforms: req.Platforms,
		Source:    req.Source,
		Owner:     e.owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := e.publisher.Publish(ctx, job.Clone()); err != nil {
		e.logger.WarnContext(ctx, "publish progress failed", "job_id", job.ID, "error", err)
	}

	metrics.EmitJobAccepted(e.metrics, string(job.Mode))
	e.logger.InfoContext(ctx, "job accepted",
		"job_id", job.ID,
		"mode", job.Mode,
		"platforms", job.Platforms,
		"has_source", job.Source != nil)

	e.schedule(job.ID)
	return job.Clone(), nil
}

func (e *Executor) probe(ctx context.Context, ref model.SourceRef) error {
	if e.collab.Analyzer == nil {
		return apperrors.SourceUnavailable("source repositories are not supported by this server", nil)
	}
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	err := e.collab.Analyzer.Probe(probeCtx, ref)
	switch {
	case err == nil:
		return nil
	case apperrors.IsSourceUnavailable(err), apperrors.IsInvalidRequest(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return apperrors.SourceUnavailable(fmt.Sprintf("source %s is unavailable", ref.URL), err)
	}
}

// schedule hands the job to the bounded worker group without blocking the
// caller. Called with e.mu held.
func (e *Executor) schedule(jobID string) {
	e.queued.Add(1)
	go func() {
		defer e.queued.Done()
		if e.baseCtx.Err() != nil {
			e.abandon(jobID)
			return
		}
		e.group.Go(func() error {
			if e.baseCtx.Err() != nil {
				e.abandon(jobID)
				return nil
			}
			if err := e.Run(e.baseCtx, jobID); err != nil && !errors.Is(err, errRunAborted) {
				e.logger.Error("job run failed", "job_id", jobID, "error", err)
			}
			return nil
		})
	}()
}

// abandon fails a job that never started because shutdown began.
func (e *Executor) abandon(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil || job.IsTerminal() {
		return
	}
	w := e.newWriter(job, nil)
	_ = w.fail(ctx, interruptedError())
}

// Run executes a pending job's phases in order and drives it to a terminal
// status. It is called by the worker group for submitted jobs.
func (e *Executor) Run(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != model.JobStatusPending {
		return apperrors.Conflictf("job %s is %s, not pending", jobID, job.Status)
	}
	table, ok := e.tables.ForMode(job.Mode)
	if !ok {
		return fmt.Errorf("%w: no table for mode %s", phase.ErrInvalidTable, job.Mode)
	}

	logger := e.logger.With("job_id", job.ID, "mode", job.Mode)
	w := e.newWriter(job, table)
	w.logger = logger
	r := &run{e: e, w: w, table: table, project: core.NewProject(projectName(job)), logger: logger}

	started := e.now()
	logger.InfoContext(ctx, "job started")

	cause := r.execute(ctx)
	switch {
	case cause == nil:
		final := w.snapshot()
		metrics.EmitJobFinished(e.metrics, metrics.JobMetric{
			Mode:     string(final.Mode),
			Status:   string(final.Status),
			Result:   metrics.ResultSuccess,
			Duration: e.now().Sub(started),
		})
		logger.InfoContext(ctx, "job finished",
			"status", final.Status,
			"files", r.project.Stats().FilesEmitted,
			"elapsed", e.now().Sub(started))
		return nil
	case errors.Is(cause.err, errRunAborted):
		metrics.EmitJobFinished(e.metrics, metrics.JobMetric{
			Mode:   string(job.Mode),
			Status: string(model.JobStatusFailed),
			Phase:  w.snapshot().Phase,
			Result: metrics.ResultInterrupted,
		})
		return errRunAborted
	}

	// Shutdown cancels ctx; the terminal write uses its own deadline so the
	// record is not left in flight.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := w.fail(finalCtx, cause.jobError); err != nil {
		return fmt.Errorf("record failure of job %s: %w", jobID, err)
	}
	metrics.EmitJobFinished(e.metrics, metrics.JobMetric{
		Mode:     string(job.Mode),
		Status:   string(model.JobStatusFailed),
		Phase:    w.snapshot().Phase,
		Result:   metrics.ResultFailed,
		Code:     cause.jobError.Code,
		Duration: e.now().Sub(started),
		Err:      cause.err,
	})
	logger.ErrorContext(ctx, "job failed",
		"phase", w.snapshot().Phase,
		"code", cause.jobError.Code,
		"detail", cause.jobError.Detail,
		"error", cause.err)
	return nil
}

func (e *Executor) newWriter(job *model.Job, table *phase.Table) *jobWriter {
	return &jobWriter{
		job:       job,
		table:     table,
		jobs:      e.jobs,
		publisher: e.publisher,
		now:       e.now,
		logger:    e.logger.With("job_id", job.ID),
	}
}

// Ready reports whether the executor still accepts submissions.
func (e *Executor) Ready(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	return nil
}

// Shutdown stops accepting submissions, cancels running jobs, and waits for
// them to record a terminal status or for ctx to end.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.queued.Wait()
		_ = e.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.InfoContext(ctx, "executor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown: %w", ctx.Err())
	}
}

func interruptedError() model.JobError {
	return model.JobError{
		Code:   string(apperrors.ErrCodeInterrupted),
		Detail: "job was interrupted before it finished",
	}
}

func projectName(job *model.Job) string {
	if job.AppName != "" {
		return job.AppName
	}
	return "app-" + job.ID[:min(8, len(job.ID))]
}
