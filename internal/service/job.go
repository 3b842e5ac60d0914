package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

// ProgressSubscriber opens live progress subscriptions keyed by job id.
type ProgressSubscriber interface {
	Subscribe(jobID string) (func(), <-chan *model.Job)
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo      core.JobRepository // Required: job repository
	Artifacts core.ArtifactStore // Required: packaged artifacts
	Progress  ProgressSubscriber // Required: live progress registry
	Logger    *slog.Logger       // Optional: structured logger
}

// JobService is the read side of the Job Record: snapshots, listings,
// artifact downloads and progress subscriptions. Reads never block the executor.
type JobService struct {
	repo      core.JobRepository
	artifacts core.ArtifactStore
	progress  ProgressSubscriber
	logger    *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("ArtifactStore is required")
	}
	if opts.Progress == nil {
		return nil, errors.New("ProgressSubscriber is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:      opts.Repo,
		artifacts: opts.Artifacts,
		progress:  opts.Progress,
		logger:    logger,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Get returns the current snapshot of a job.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NotFoundf("job not found")
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns recent jobs, newest first.
func (s *JobService) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	jobs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a terminal job and its artifacts. A job that is still in
// flight yields NotReady and is left untouched.
func (s *JobService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.NotFoundf("job not found")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, core.ErrJobNotTerminal) {
			return apperrors.NotReadyf("job %s is still running", id)
		}
		return fmt.Errorf("delete job: %w", err)
	}
	deleteJobArtifacts(ctx, s.artifacts, s.logger, []string{id})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job deleted", "job_id", id)
	}
	return nil
}

// Subscribe opens a live progress subscription for id.
func (s *JobService) Subscribe(id string) (func(), <-chan *model.Job) {
	return s.progress.Subscribe(id)
}

// OpenArtifact returns the package built for platform. A job that has not
// reached a successful terminal status yields NotReady; a failed job, or a
// platform that was not built, yields NotFound. platform may be empty when
// the job targets a single platform.
func (s *JobService) OpenArtifact(ctx context.Context, id string, platform model.Platform) (io.ReadCloser, *core.ArtifactInfo, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case job.Status == model.JobStatusFailed:
		return nil, nil, apperrors.NotFoundf("job %s failed and has no artifacts", id)
	case !job.Status.IsSuccess():
		return nil, nil, apperrors.NotReadyf("job %s is %s (%d%%)", id, job.Status, job.Progress)
	}

	if platform == "" {
		if len(job.Platforms) != 1 {
			return nil, nil, apperrors.InvalidRequest("platform", "platform is required for multi-platform jobs")
		}
		platform = job.Platforms[0]
	}
	key, ok := job.Artifacts[platform]
	if !ok {
		return nil, nil, apperrors.NotFoundf("job %s has no %s artifact", id, platform)
	}

	rc, info, err := s.artifacts.Open(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "artifact opened", "job_id", id, "platform", platform, "size", info.Size)
	}
	return rc, info, nil
}
