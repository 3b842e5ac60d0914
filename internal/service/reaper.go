package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Johnshah/My/config"
	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
	"github.com/Johnshah/My/internal/observability/metrics"
	"github.com/Johnshah/My/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo       core.ReaperRepository  // Required: reaper repository
	Artifacts  core.ArtifactStore     // Optional: artifacts removed with expired jobs
	Publisher  core.ProgressPublisher // Optional: receives snapshots of jobs failed by the reaper
	Config     config.ReaperConfig    // Required: reaper configuration
	InstanceID string                 // Optional: owner whose in-flight jobs RecoverOwned fails
	Metrics    statsd.Sink            // Optional: counts of reaped jobs
	Logger     *slog.Logger           // Optional: structured logger
	Clock      func() time.Time       // Optional: time source for tests
}

// ReaperService provides job recovery and cleanup operations.
//
// This service manages:
// - Failing in-flight jobs left behind by a previous run of this instance.
// - Failing in-flight jobs that stopped receiving writes.
// - Deleting terminal jobs and their artifacts after the retention period.
type ReaperService struct {
	repo      core.ReaperRepository
	artifacts core.ArtifactStore
	publisher core.ProgressPublisher
	config    config.ReaperConfig
	owner     string
	metrics   statsd.Sink
	logger    *slog.Logger
	now       func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"inflight_max_age", opts.Config.InflightMaxAge,
			"retention", opts.Config.Retention,
		)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &ReaperService{
		repo:      opts.Repo,
		artifacts: opts.Artifacts,
		publisher: opts.Publisher,
		config:    opts.Config,
		owner:     opts.InstanceID,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       now,
	}, nil
}

// RecoverOwned fails every non-terminal job owned by this instance. It runs
// at startup, before the executor accepts work, so the only such jobs are
// leftovers of a previous process.
func (s *ReaperService) RecoverOwned(ctx context.Context) (int, error) {
	if s.owner == "" {
		return 0, nil
	}
	count, err := s.failInFlight(ctx, core.FailJobsParams{
		Owner: s.owner,
		Error: interruptedError(),
	})
	metrics.EmitReaped(s.metrics, "recovered", count)
	if err != nil {
		return count, fmt.Errorf("recover owned jobs: %w", err)
	}
	if count > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed jobs interrupted by restart", "count", count, "owner", s.owner)
	}
	return count, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// runCleanup performs all cleanup operations. A failing step does not stop
// the others.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	steps := []struct {
		label string
		fn    func(context.Context) (int, error)
	}{
		{label: "fail stale jobs", fn: s.failStaleJobs},
		{label: "delete expired jobs", fn: s.deleteExpiredJobs},
	}

	var errs []error
	for _, step := range steps {
		if _, err := step.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
		}
	}
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if isContextCancellation(joined) && ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}
	return nil
}

// failStaleJobs fails in-flight jobs whose last write is older than the
// configured max age, whoever owns them.
func (s *ReaperService) failStaleJobs(ctx context.Context) (int, error) {
	count, err := s.failInFlight(ctx, core.FailJobsParams{
		UpdatedBefore: s.now().Add(-s.config.InflightMaxAge),
		Error: model.JobError{
			Code:   string(apperrors.ErrCodeInterrupted),
			Detail: fmt.Sprintf("no progress for %s", s.config.InflightMaxAge),
		},
	})
	metrics.EmitReaped(s.metrics, "failed_stale", count)
	if count > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed stale jobs", "count", count, "max_age", s.config.InflightMaxAge)
	}
	return count, err
}

// failInFlight loops over batches until nothing matches, publishing each
// failed snapshot so open progress channels see the terminal update.
func (s *ReaperService) failInFlight(ctx context.Context, params core.FailJobsParams) (int, error) {
	params.BatchSize = s.config.BatchSize
	total := 0
	for {
		jobs, err := s.repo.FailInFlight(ctx, params)
		if err != nil {
			return total, err
		}
		total += len(jobs)
		for _, job := range jobs {
			s.publish(ctx, job)
		}
		if len(jobs) == 0 || len(jobs) < params.BatchSize {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// deleteExpiredJobs deletes terminal jobs completed before the retention
// cutoff, then their artifacts.
func (s *ReaperService) deleteExpiredJobs(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.Retention)
	total := 0
	for {
		ids, err := s.repo.DeleteTerminalBefore(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += len(ids)
		deleteJobArtifacts(ctx, s.artifacts, s.logger, ids)
		if len(ids) == 0 || len(ids) < s.config.BatchSize {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	metrics.EmitReaped(s.metrics, "deleted", total)
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted expired jobs", "count", total, "retention", s.config.Retention)
	}
	return total, nil
}

// deleteJobArtifacts removes the artifacts of deleted jobs. Failures are
// logged only: the records are already gone.
func deleteJobArtifacts(ctx context.Context, store core.ArtifactStore, logger *slog.Logger, ids []string) {
	if store == nil {
		return
	}
	for _, id := range ids {
		if err := store.DeleteJob(ctx, id); err != nil && logger != nil {
			logger.WarnContext(ctx, "delete artifacts failed", "job_id", id, "error", err)
		}
	}
}

func (s *ReaperService) publish(ctx context.Context, job *model.Job) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, job); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "publish failed snapshot", "job_id", job.ID, "error", err)
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
