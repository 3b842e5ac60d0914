package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/domain/phase"
)

// This file contains the ports between the service layer and its adapters.
// Services depend on these interfaces, never on concrete implementations.

var (
	// ErrStaleWrite is returned by Save when the stored version differs from the caller's.
	ErrStaleWrite = errors.New("job record was modified by another writer")
	// ErrJobTerminal is returned by Save when the stored record is already terminal.
	ErrJobTerminal = errors.New("job record is terminal")
	// ErrJobNotTerminal is returned by Delete when the stored record is still in flight.
	ErrJobNotTerminal = errors.New("job record is not terminal")
)

// JobRepository persists Job Records.
//
// Save is a compare-and-swap on Version: it succeeds only when the stored
// version equals job.Version and the stored status is not terminal. On
// success job.Version is incremented and job.UpdatedAt refreshed in place.
//
// Delete removes a terminal record. It returns a NotFound AppError for an
// unknown id and ErrJobNotTerminal while the job is still in flight.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, id string) (*model.Job, error)
	Save(ctx context.Context, job *model.Job) error
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	Delete(ctx context.Context, id string) error
}

// FailJobsParams selects non-terminal jobs to fail in bulk.
type FailJobsParams struct {
	// Owner restricts the update to jobs held by one executor instance.
	Owner string
	// UpdatedBefore restricts the update to jobs whose last write is older.
	UpdatedBefore time.Time
	Error         model.JobError
	BatchSize     int
}

// ReaperRepository provides the maintenance operations used by the reaper.
type ReaperRepository interface {
	// FailInFlight fails every non-terminal job matching params and returns the
	// updated records.
	FailInFlight(ctx context.Context, params FailJobsParams) ([]*model.Job, error)
	// DeleteTerminalBefore deletes up to batch terminal jobs completed before
	// cutoff and returns their ids.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, batch int) ([]string, error)
}

// ProgressPublisher fans a snapshot out to observers of job.ID.
// Implementations must not block on slow observers.
type ProgressPublisher interface {
	Publish(ctx context.Context, job *model.Job) error
}

// SourceReport summarises an analyzed source repository.
type SourceReport struct {
	URL       string         `json:"url"`
	Ref       string         `json:"ref,omitempty"`
	Commit    string         `json:"commit"`
	Files     int            `json:"files"`
	Languages map[string]int `json:"languages"`
	Primary   string         `json:"primary"`
}

// SourceAnalyzer inspects repositories used as generation input.
type SourceAnalyzer interface {
	// Probe checks that ref is syntactically valid and reachable. It returns a
	// SourceUnavailable AppError otherwise.
	Probe(ctx context.Context, ref model.SourceRef) error
	Analyze(ctx context.Context, ref model.SourceRef) (*SourceReport, error)
}

// Project is the in-progress output of a job: file paths mapped to contents.
// It is owned by a single job run and never shared between goroutines.
type Project struct {
	Name  string
	Files map[string][]byte
}

// NewProject returns an empty project.
func NewProject(name string) *Project {
	return &Project{Name: name, Files: make(map[string][]byte)}
}

// Put records a file, replacing any previous content at path.
func (p *Project) Put(path string, content []byte) {
	p.Files[path] = content
}

// Paths returns the file paths in lexical order.
func (p *Project) Paths() []string {
	paths := make([]string, 0, len(p.Files))
	for path := range p.Files {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// Stats counts files and lines. A final line without a trailing newline still counts.
func (p *Project) Stats() model.JobStats {
	stats := model.JobStats{FilesEmitted: len(p.Files)}
	for _, content := range p.Files {
		if len(content) == 0 {
			continue
		}
		stats.LinesEmitted += bytes.Count(content, []byte{'\n'})
		if content[len(content)-1] != '\n' {
			stats.LinesEmitted++
		}
	}
	return stats
}

// GenerateRequest describes one generation phase.
type GenerateRequest struct {
	JobID     string
	Mode      model.JobMode
	Phase     phase.Phase
	Prompt    string
	AppName   string
	Platforms []model.Platform
	Source    *SourceReport
}

// UnitFunc reports that done of total units of the current phase have finished.
type UnitFunc func(done, total int)

// Generator emits code into a project, one phase at a time.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest, project *Project, onUnit UnitFunc) error
}

// BuildRequest describes one platform package.
type BuildRequest struct {
	JobID    string
	Platform model.Platform
	Project  *Project
}

// Builder packages a project for a platform and returns the artifact key.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (string, error)
}

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// ArtifactStore keeps packaged artifacts addressed by key.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader) (*ArtifactInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, *ArtifactInfo, error)
	DeleteJob(ctx context.Context, jobID string) error
}
