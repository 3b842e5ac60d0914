package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Johnshah/My/internal/domain/model"
)

// WatchOptions configures Client.Watch.
type WatchOptions struct {
	// Subscriber tunes the push channel; its URL is filled in by Watch.
	Subscriber   SubscriberOptions
	PollInterval time.Duration
	// OnProgress receives each new snapshot from either path, in version order.
	OnProgress func(job *model.Job)
	// OnFallback is told why the push channel was given up for polling.
	OnFallback  func(err error)
	OnPollError func(err error)
}

// Watch follows a job to its terminal state over the progress websocket and
// falls back to polling if the channel cannot be kept open. It returns the
// terminal snapshot; for a failed job the error is a *JobFailedError.
func (c *Client) Watch(ctx context.Context, id string, opts WatchOptions) (*model.Job, error) {
	var (
		mu       sync.Mutex
		lastSeen int64
		final    *model.Job
	)
	deliver := func(job *model.Job) {
		mu.Lock()
		if job.Version <= lastSeen {
			mu.Unlock()
			return
		}
		lastSeen = job.Version
		if job.IsTerminal() {
			final = job
		}
		mu.Unlock()
		if opts.OnProgress != nil {
			opts.OnProgress(job)
		}
	}

	subOpts := opts.Subscriber
	subOpts.URL = c.ProgressURL(id)
	if subOpts.Logger == nil {
		subOpts.Logger = c.logger
	}
	sub := NewSubscriber(subOpts, Callbacks{OnProgress: deliver})
	if err := sub.Start(ctx); err != nil {
		return nil, err
	}

	select {
	case <-sub.Done():
	case <-ctx.Done():
		sub.Disconnect()
		<-sub.Done()
		return nil, ctx.Err()
	}

	err := sub.Err()
	var connErr *ConnectionError
	switch {
	case err == nil:
		return final, nil
	case errors.As(err, &connErr):
	default:
		return final, err
	}

	c.logger.WarnContext(ctx, "progress channel unavailable, polling instead", "job_id", id, "error", err)
	if opts.OnFallback != nil {
		opts.OnFallback(err)
	}
	poller := NewPoller(c, id, PollerOptions{
		Interval: opts.PollInterval,
		OnUpdate: deliver,
		OnError:  opts.OnPollError,
	})
	job, err := poller.Run(ctx)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsSuccess() {
		return job, jobFailed(job)
	}
	return job, nil
}
