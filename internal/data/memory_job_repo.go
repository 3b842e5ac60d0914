package data

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

// MemoryJobRepo is an in-process JobRepository with the same write rules as
// JobRepo. Records do not survive a restart.
type MemoryJobRepo struct {
	timeProvider TimeProvider

	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewMemoryJobRepo creates an empty MemoryJobRepo. A nil TimeProvider uses real time.
func NewMemoryJobRepo(tp TimeProvider) *MemoryJobRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryJobRepo{timeProvider: tp, jobs: make(map[string]*model.Job)}
}

// Create stores a copy of job.
func (r *MemoryJobRepo) Create(_ context.Context, job *model.Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return apperrors.ValidationField("id", "job id is required")
	}
	if job.Version <= 0 {
		job.Version = 1
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.timeProvider.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return &apperrors.AppError{Code: apperrors.ErrCodeConflict, Message: "record already exists", Field: "id"}
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// GetByID returns a copy of the stored record.
func (r *MemoryJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return job.Clone(), nil
}

// Save replaces the stored record under the same compare-and-swap rules as JobRepo.Save.
func (r *MemoryJobRepo) Save(_ context.Context, job *model.Job) error {
	if job == nil {
		return apperrors.ValidationField("id", "job is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return apperrors.NotFoundf("job %s not found", job.ID)
	}
	if stored.IsTerminal() {
		return fmt.Errorf("save job %s: %w", job.ID, core.ErrJobTerminal)
	}
	if stored.Version != job.Version {
		return fmt.Errorf("save job %s at version %d (stored %d): %w", job.ID, job.Version, stored.Version, core.ErrStaleWrite)
	}

	job.Version++
	job.UpdatedAt = r.timeProvider.Now().UTC()
	next := job.Clone()
	// Immutable fields always come from the stored record.
	next.Mode = stored.Mode
	next.Prompt = stored.Prompt
	next.AppName = stored.AppName
	next.Platforms = stored.Platforms
	next.Source = stored.Source
	next.CreatedAt = stored.CreatedAt
	r.jobs[job.ID] = next
	return nil
}

// List returns jobs ordered newest first.
func (r *MemoryJobRepo) List(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	limit, offset := normalizeListOptions(opts)

	r.mu.RLock()
	all := make([]*model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		all = append(all, job.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b *model.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	out := make([]*model.Job, 0, limit)
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, all[i])
	}
	return out, nil
}

// FailInFlight fails non-terminal jobs matching params.
func (r *MemoryJobRepo) FailInFlight(_ context.Context, params core.FailJobsParams) ([]*model.Job, error) {
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReaperBatchSize
	}
	now := r.timeProvider.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]*model.Job, 0)
	for _, job := range r.jobs {
		if job.IsTerminal() {
			continue
		}
		if params.Owner != "" && job.Owner != params.Owner {
			continue
		}
		if !params.UpdatedBefore.IsZero() && !job.UpdatedAt.Before(params.UpdatedBefore) {
			continue
		}
		candidates = append(candidates, job)
	}
	slices.SortFunc(candidates, func(a, b *model.Job) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if len(candidates) > batch {
		candidates = candidates[:batch]
	}

	failed := make([]*model.Job, 0, len(candidates))
	for _, stored := range candidates {
		// Stored records are never mutated in place; readers may hold them.
		job := stored.Clone()
		jobErr := params.Error
		job.Status = model.JobStatusFailed
		job.Error = &jobErr
		job.Message = jobErr.Detail
		job.CompletedAt = &now
		job.UpdatedAt = now
		job.Version++
		r.jobs[job.ID] = job
		failed = append(failed, job.Clone())
	}
	return failed, nil
}

// Delete removes a terminal record.
func (r *MemoryJobRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.NotFoundf("job %s not found", id)
	}
	if !job.IsTerminal() {
		return core.ErrJobNotTerminal
	}
	delete(r.jobs, id)
	return nil
}

// DeleteTerminalBefore removes up to batch terminal jobs completed before cutoff.
func (r *MemoryJobRepo) DeleteTerminalBefore(_ context.Context, cutoff time.Time, batch int) ([]string, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0)
	for id, job := range r.jobs {
		if len(ids) == batch {
			break
		}
		if job.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(r.jobs, id)
	}
	return ids, nil
}

var (
	_ core.JobRepository    = (*MemoryJobRepo)(nil)
	_ core.ReaperRepository = (*MemoryJobRepo)(nil)
	_ core.JobRepository    = (*JobRepo)(nil)
	_ core.ReaperRepository = (*JobRepo)(nil)
)
