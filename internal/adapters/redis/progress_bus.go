// Package redis provides Redis-based adapters for the generation service.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
)

// DefaultChannelPrefix namespaces progress channels.
const DefaultChannelPrefix = "appgen:progress:"

// ProgressBus carries full job snapshots between replicas over Redis pub/sub.
// Pub/sub is fire and forget, matching the at-most-once delivery of the hub.
type ProgressBus struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ core.ProgressPublisher = (*ProgressBus)(nil)

// ProgressBusOptions configures a ProgressBus.
type ProgressBusOptions struct {
	Client redis.UniversalClient
	Prefix string
	Logger *slog.Logger
}

// NewProgressBus creates a ProgressBus.
func NewProgressBus(opts ProgressBusOptions) *ProgressBus {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressBus{
		client: opts.Client,
		prefix: prefix,
		logger: logger.With("component", "redis_progress_bus"),
	}
}

// Channel returns the pub/sub channel of jobID.
func (b *ProgressBus) Channel(jobID string) string { return b.prefix + jobID }

// Publish sends the snapshot to every replica listening on job.ID.
func (b *ProgressBus) Publish(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err = b.client.Publish(ctx, b.Channel(job.ID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Listen subscribes to jobID and delivers decoded snapshots until ctx ends.
// After a terminal snapshot it unsubscribes and waits for ctx.
func (b *ProgressBus) Listen(ctx context.Context, jobID string, deliver func(*model.Job)) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	sub := b.client.Subscribe(ctx, b.Channel(jobID))
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.Debug("close subscription", "job_id", jobID, "error", err)
		}
	}()

	// Receive blocks until the subscription is confirmed so no publish made
	// after Listen starts receiving can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var job model.Job
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				b.logger.Warn("dropping undecodable snapshot", "job_id", jobID, "error", err)
				continue
			}
			if job.ID != jobID {
				continue
			}
			deliver(&job)
			if job.IsTerminal() {
				<-ctx.Done()
				return ctx.Err()
			}
		}
	}
}
