package client

import (
	"context"
	"errors"
	"time"

	"github.com/Johnshah/My/internal/domain/model"
)

const defaultPollInterval = 2 * time.Second

// SnapshotFetcher reads a job snapshot; *Client implements it.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, id string) (*model.Job, error)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval time.Duration
	// OnUpdate receives each snapshot newer than the previous one.
	OnUpdate func(job *model.Job)
	// OnError receives fetch failures; polling carries on after them.
	OnError func(err error)
}

// Poller pulls a job's snapshot on a fixed interval until it is terminal.
type Poller struct {
	fetch SnapshotFetcher
	jobID string
	opts  PollerOptions
}

// NewPoller constructs a Poller for jobID.
func NewPoller(fetch SnapshotFetcher, jobID string, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	return &Poller{fetch: fetch, jobID: jobID, opts: opts}
}

// Run polls until the job reaches ready, completed or failed and returns that
// snapshot, or until ctx is done and returns ctx.Err(). A failed job is a
// normal result here; callers inspect its status.
func (p *Poller) Run(ctx context.Context) (*model.Job, error) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	var lastSeen int64
	for {
		job, err := p.fetch.Snapshot(ctx, p.jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil, ctx.Err()
			}
			if p.opts.OnError != nil {
				p.opts.OnError(err)
			}
		case job.Version > lastSeen:
			lastSeen = job.Version
			if p.opts.OnUpdate != nil {
				p.opts.OnUpdate(job)
			}
			if job.IsTerminal() {
				return job, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
