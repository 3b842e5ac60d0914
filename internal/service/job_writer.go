package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/domain/phase"
)

// errRunAborted stops a run whose record was finished by someone else,
// typically the reaper.
var errRunAborted = errors.New("job record is no longer writable by this run")

// jobWriter is the only mutator of one Job Record during a run. Every change
// goes through commit, which persists with a version check and then
// publishes the new snapshot.
type jobWriter struct {
	mu        sync.Mutex
	job       *model.Job
	table     *phase.Table
	jobs      core.JobRepository
	publisher core.ProgressPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// snapshot returns a copy of the current record.
func (w *jobWriter) snapshot() *model.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.job.Clone()
}

// enterPhase moves the job into phase i: status follows the phase stage and
// progress is raised to the band's lower bound.
func (w *jobWriter) enterPhase(ctx context.Context, i int) error {
	ph := w.table.Phase(i)
	lo, _ := w.table.Band(i)
	return w.commit(ctx, func(j *model.Job) bool {
		if j.StartedAt == nil {
			t := w.now()
			j.StartedAt = &t
		}
		if j.Status != ph.Stage && j.Status.CanTransition(ph.Stage) {
			j.Status = ph.Stage
		}
		j.Phase = ph.Name
		j.Progress = max(j.Progress, lo)
		j.Message = fmt.Sprintf("Running %s", ph.Name)
		return true
	})
}

// advance records done of total units of phase i. Updates that would not
// raise progress are skipped.
func (w *jobWriter) advance(ctx context.Context, i, done, total int) error {
	p := w.table.Progress(i, done, total)
	return w.commit(ctx, func(j *model.Job) bool {
		if p <= j.Progress {
			return false
		}
		j.Progress = p
		j.Message = fmt.Sprintf("%s: %d of %d", w.table.Phase(i).Name, min(done, total), total)
		return true
	})
}

// finishPhase raises progress to the upper bound of phase i and records stats.
func (w *jobWriter) finishPhase(ctx context.Context, i int, stats model.JobStats) error {
	_, hi := w.table.Band(i)
	return w.commit(ctx, func(j *model.Job) bool {
		if hi <= j.Progress && j.Stats == stats {
			return false
		}
		j.Progress = max(j.Progress, hi)
		j.Stats = stats
		return true
	})
}

// addArtifact records the package built for platform.
func (w *jobWriter) addArtifact(platform model.Platform, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.job.Artifacts == nil {
		w.job.Artifacts = make(map[model.Platform]string)
	}
	w.job.Artifacts[platform] = key
}

// complete moves the job to the table's successful terminal status.
func (w *jobWriter) complete(ctx context.Context, stats model.JobStats) error {
	return w.commit(ctx, func(j *model.Job) bool {
		t := w.now()
		j.Status = w.table.Terminal()
		j.Progress = 100
		j.Stats = stats
		j.CompletedAt = &t
		j.Message = fmt.Sprintf("Generated %d files", stats.FilesEmitted)
		return true
	})
}

// fail moves the job to failed, keeping its last progress.
func (w *jobWriter) fail(ctx context.Context, cause model.JobError) error {
	return w.commit(ctx, func(j *model.Job) bool {
		t := w.now()
		j.Status = model.JobStatusFailed
		j.Error = &cause
		j.CompletedAt = &t
		j.Message = cause.Detail
		return true
	})
}

// commit applies mutate to a copy of the record, saves it and publishes the
// result. mutate returns false to skip the write. A stale version is
// reconciled once against the stored record.
func (w *jobWriter) commit(ctx context.Context, mutate func(*model.Job) bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.job.IsTerminal() {
		return errRunAborted
	}
	next := w.job.Clone()
	if !mutate(next) {
		return nil
	}

	err := w.jobs.Save(ctx, next)
	if errors.Is(err, core.ErrStaleWrite) {
		err = w.reconcile(ctx, next)
	}
	switch {
	case errors.Is(err, core.ErrJobTerminal):
		w.logger.WarnContext(ctx, "job finished by another writer", "job_id", w.job.ID)
		return errRunAborted
	case err != nil:
		return fmt.Errorf("save job %s: %w", w.job.ID, err)
	}

	w.job = next
	if pubErr := w.publisher.Publish(ctx, next.Clone()); pubErr != nil {
		w.logger.WarnContext(ctx, "publish progress failed", "job_id", next.ID, "error", pubErr)
	}
	w.logger.DebugContext(ctx, "job updated",
		"job_id", next.ID,
		"status", next.Status,
		"phase", next.Phase,
		"progress", next.Progress,
		"version", next.Version)
	return nil
}

// reconcile adopts the stored version when the stored record is still in
// flight, then retries the save once.
func (w *jobWriter) reconcile(ctx context.Context, next *model.Job) error {
	stored, err := w.jobs.GetByID(ctx, next.ID)
	if err != nil {
		return err
	}
	if stored.IsTerminal() {
		return core.ErrJobTerminal
	}
	w.logger.WarnContext(ctx, "reconciling stale job version",
		"job_id", next.ID,
		"local_version", next.Version,
		"stored_version", stored.Version)
	next.Version = stored.Version
	return w.jobs.Save(ctx, next)
}
