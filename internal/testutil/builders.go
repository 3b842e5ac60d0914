package testutil

import (
	"time"

	"github.com/Johnshah/My/internal/domain/model"
)

// JobBuilder provides a fluent interface for building Job Records in tests.
type JobBuilder struct {
	job *model.Job
}

// NewJob returns a pending standard job for the web platform.
func NewJob(id string) *JobBuilder {
	return &JobBuilder{job: &model.Job{
		ID:        id,
		Mode:      model.JobModeStandard,
		Status:    model.JobStatusPending,
		Prompt:    "todo list app",
		Platforms: []model.Platform{model.PlatformWeb},
		Version:   1,
		CreatedAt: TestTime(),
		UpdatedAt: TestTime(),
	}}
}

// WithMode sets the job mode.
func (b *JobBuilder) WithMode(mode model.JobMode) *JobBuilder {
	b.job.Mode = mode
	return b
}

// WithStatus sets the status and progress. Terminal statuses also get a completion time.
func (b *JobBuilder) WithStatus(status model.JobStatus, progress int) *JobBuilder {
	b.job.Status = status
	b.job.Progress = progress
	if status.IsTerminal() {
		t := b.job.UpdatedAt
		b.job.CompletedAt = &t
	}
	return b
}

// WithOwner sets the executor instance holding the job.
func (b *JobBuilder) WithOwner(owner string) *JobBuilder {
	b.job.Owner = owner
	return b
}

// WithCreatedAt sets both creation and last update time.
func (b *JobBuilder) WithCreatedAt(t time.Time) *JobBuilder {
	b.job.CreatedAt = t
	b.job.UpdatedAt = t
	if b.job.CompletedAt != nil {
		b.job.CompletedAt = &t
	}
	return b
}

// WithArtifact records an artifact key for platform.
func (b *JobBuilder) WithArtifact(p model.Platform, key string) *JobBuilder {
	if b.job.Artifacts == nil {
		b.job.Artifacts = make(map[model.Platform]string)
	}
	b.job.Artifacts[p] = key
	return b
}

// WithSource sets the source reference.
func (b *JobBuilder) WithSource(url string) *JobBuilder {
	b.job.Source = &model.SourceRef{URL: url}
	return b
}

// Build returns the job.
func (b *JobBuilder) Build() *model.Job {
	return b.job.Clone()
}
