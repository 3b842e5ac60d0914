// Package reaper provides adapters for running the job reaper.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Johnshah/My/config"
	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/observability/statsd"
	"github.com/Johnshah/My/internal/service"
)

// Runner provides a simple adapter to run the reaper loop.
// It constructs the reaper service, recovers jobs orphaned by a previous
// process and runs the cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Repo       core.ReaperRepository
	Artifacts  core.ArtifactStore
	Publisher  core.ProgressPublisher
	Config     config.ReaperConfig
	InstanceID string
	Metrics    statsd.Sink
	Logger     *slog.Logger
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("reaper repository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// Use NewReaperService instead of Must to allow error propagation
	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:       opts.Repo,
		Artifacts:  opts.Artifacts,
		Publisher:  opts.Publisher,
		Config:     opts.Config,
		InstanceID: opts.InstanceID,
		Metrics:    opts.Metrics,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: reaper, logger: opts.Logger}, nil
}

// Recover fails the jobs this instance owned before it restarted. Call it
// before the executor accepts work.
func (r *Runner) Recover(ctx context.Context) error {
	_, err := r.reaper.RecoverOwned(ctx)
	return err
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
