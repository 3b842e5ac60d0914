package data

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
)

// JobStore is a repository that serves both the executor and the reaper.
type JobStore interface {
	core.JobRepository
	core.ReaperRepository
}

// SnapshotCacheOptions configure a SnapshotCache.
type SnapshotCacheOptions struct {
	Store  JobStore
	Cache  core.CacheRepository
	TTL    time.Duration
	Logger *slog.Logger
}

// SnapshotCache serves terminal Job Records from a cache. Terminal records are
// immutable so a cached copy never goes stale; non-terminal reads always reach
// the store. Cache failures degrade to store reads.
type SnapshotCache struct {
	store  JobStore
	cache  core.CacheRepository
	ttl    time.Duration
	logger *slog.Logger
}

// NewSnapshotCache wraps opts.Store.
func NewSnapshotCache(opts SnapshotCacheOptions) *SnapshotCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotCache{
		store:  opts.Store,
		cache:  opts.Cache,
		ttl:    ttl,
		logger: logger.With("component", "snapshot_cache"),
	}
}

func snapshotKey(id string) string { return "appgen:job:" + id }

// Create delegates to the store.
func (c *SnapshotCache) Create(ctx context.Context, job *model.Job) error {
	return c.store.Create(ctx, job)
}

// GetByID returns the cached terminal snapshot or reads through to the store.
func (c *SnapshotCache) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if raw, err := c.cache.Get(ctx, snapshotKey(id)); err != nil {
		c.logger.WarnContext(ctx, "snapshot cache read failed", "job_id", id, "error", err)
	} else if raw != nil {
		var job model.Job
		if jsonErr := json.Unmarshal(raw, &job); jsonErr == nil {
			return &job, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable cached snapshot", "job_id", id)
	}

	job, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, job)
	return job, nil
}

// Save delegates to the store and caches the record once it is terminal.
func (c *SnapshotCache) Save(ctx context.Context, job *model.Job) error {
	if err := c.store.Save(ctx, job); err != nil {
		return err
	}
	c.remember(ctx, job)
	return nil
}

// List delegates to the store.
func (c *SnapshotCache) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	return c.store.List(ctx, opts)
}

// Delete delegates to the store and evicts the cached snapshot.
func (c *SnapshotCache) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

// FailInFlight delegates to the store and caches the failed records.
func (c *SnapshotCache) FailInFlight(ctx context.Context, params core.FailJobsParams) ([]*model.Job, error) {
	jobs, err := c.store.FailInFlight(ctx, params)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		c.remember(ctx, job)
	}
	return jobs, nil
}

// DeleteTerminalBefore delegates to the store and evicts the deleted records.
func (c *SnapshotCache) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, batch int) ([]string, error) {
	ids, err := c.store.DeleteTerminalBefore(ctx, cutoff, batch)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		c.evict(ctx, id)
	}
	return ids, nil
}

func (c *SnapshotCache) evict(ctx context.Context, id string) {
	if _, err := c.cache.Delete(ctx, snapshotKey(id)); err != nil {
		c.logger.WarnContext(ctx, "snapshot cache evict failed", "job_id", id, "error", err)
	}
}

func (c *SnapshotCache) remember(ctx context.Context, job *model.Job) {
	if !job.IsTerminal() {
		return
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return
	}
	if setErr := c.cache.Set(ctx, snapshotKey(job.ID), raw, c.ttl); setErr != nil {
		c.logger.WarnContext(ctx, "snapshot cache write failed", "job_id", job.ID, "error", setErr)
	}
}

var _ JobStore = (*SnapshotCache)(nil)
