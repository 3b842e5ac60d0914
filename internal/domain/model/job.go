// Package model defines the core data types shared by the generation job orchestrator.
package model

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Johnshah/My/internal/errors"
)

// JobMode selects which phase table drives a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobMode string

// JobStatus represents the lifecycle stage of a job.
type JobStatus string

// Platform is a packaging target for a generated application.
type Platform string

const (
	// JobModeStandard runs the short phase table.
	JobModeStandard JobMode = "standard"
	// JobModeDeep runs the fine-grained phase table with extra validation phases.
	JobModeDeep JobMode = "deep"

	// JobStatusPending indicates the job was accepted but no phase has started.
	JobStatusPending JobStatus = "pending"
	// JobStatusAnalyzing covers phases that inspect requirements or sources.
	JobStatusAnalyzing JobStatus = "analyzing"
	// JobStatusGenerating covers phases that emit code.
	JobStatusGenerating JobStatus = "generating"
	// JobStatusValidating covers phases that check emitted code.
	JobStatusValidating JobStatus = "validating"
	// JobStatusReady is the successful terminal state of standard jobs.
	JobStatusReady JobStatus = "ready"
	// JobStatusCompleted is the successful terminal state of deep jobs.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed is the unsuccessful terminal state.
	JobStatusFailed JobStatus = "failed"

	PlatformWeb     Platform = "web"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformDesktop Platform = "desktop"
)

// MaxPromptLength bounds the prompt accepted by Validate, in characters.
const MaxPromptLength = 20000

// UnmarshalText implements encoding.TextUnmarshaler so modes can be parsed from env and JSON.
func (m *JobMode) UnmarshalText(text []byte) error {
	v := JobMode(strings.ToLower(strings.TrimSpace(string(text))))
	if v == "" {
		*m = ""
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("invalid job mode: %q", v)
	}
	*m = v
	return nil
}

// Valid returns true if the JobMode is known.
func (m JobMode) Valid() bool {
	return m == JobModeStandard || m == JobModeDeep
}

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusAnalyzing, JobStatusGenerating, JobStatusValidating,
		JobStatusReady, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusCompleted || s == JobStatusFailed
}

// IsSuccess reports whether s is a successful terminal state.
func (s JobStatus) IsSuccess() bool {
	return s == JobStatusReady || s == JobStatusCompleted
}

// Rank orders statuses along the lifecycle. A transition is allowed only when
// the rank does not decrease and the current status is not terminal.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusAnalyzing:
		return 1
	case JobStatusGenerating:
		return 2
	case JobStatusValidating:
		return 3
	case JobStatusReady, JobStatusCompleted, JobStatusFailed:
		return 4
	default:
		return -1
	}
}

// CanTransition reports whether a job in status s may move to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	return next.Rank() >= s.Rank()
}

// Valid returns true if the Platform is a supported packaging target.
func (p Platform) Valid() bool {
	return p == PlatformWeb || p == PlatformAndroid || p == PlatformIOS || p == PlatformDesktop
}

// SourceRef points at a repository used as generation input.
type SourceRef struct {
	URL string `json:"url"`
	Ref string `json:"ref,omitempty"`
}

// JobError is the structured cause recorded on failed jobs.
type JobError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// JobStats summarises what the generator emitted.
type JobStats struct {
	FilesEmitted int `json:"files_emitted"`
	LinesEmitted int `json:"lines_emitted"`
}

// Job is the durable record of one generation request.
type Job struct {
	ID          string              `json:"id"                     db:"id"`
	Mode        JobMode             `json:"mode"                   db:"mode"`
	Status      JobStatus           `json:"status"                 db:"status"`
	Phase       string              `json:"phase"                  db:"phase"`
	Progress    int                 `json:"progress"               db:"progress"`
	Message     string              `json:"message"                db:"message"`
	Error       *JobError           `json:"error,omitempty"        db:"error"`
	Prompt      string              `json:"prompt,omitempty"       db:"prompt"`
	AppName     string              `json:"app_name,omitempty"     db:"app_name"`
	Platforms   []Platform          `json:"platforms"              db:"platforms"`
	Source      *SourceRef          `json:"source,omitempty"       db:"source"`
	Stats       JobStats            `json:"stats"                  db:"stats"`
	Artifacts   map[Platform]string `json:"artifacts,omitempty"    db:"artifacts"`
	Owner       string              `json:"-"                      db:"owner"`
	Version     int64               `json:"version"                db:"version"`
	CreatedAt   time.Time           `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"             db:"updated_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the job reached ready, completed or failed.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// Clone returns a deep copy so snapshots can be handed to readers while the
// executor keeps mutating its own copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Platforms = slices.Clone(j.Platforms)
	c.Artifacts = maps.Clone(j.Artifacts)
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.Source != nil {
		s := *j.Source
		c.Source = &s
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SubmitRequest is a client's generation request.
type SubmitRequest struct {
	Prompt    string     `json:"prompt"`
	AppName   string     `json:"app_name,omitempty"`
	Mode      JobMode    `json:"mode,omitempty"`
	Platforms []Platform `json:"platforms,omitempty"`
	Source    *SourceRef `json:"source,omitempty"`
}

// Normalize trims input and applies defaults: standard mode and the web platform.
func (r *SubmitRequest) Normalize() {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.AppName = strings.TrimSpace(r.AppName)
	if r.Mode == "" {
		r.Mode = JobModeStandard
	}
	if r.Source != nil {
		r.Source.URL = strings.TrimSpace(r.Source.URL)
		r.Source.Ref = strings.TrimSpace(r.Source.Ref)
		if r.Source.URL == "" {
			r.Source = nil
		}
	}

	platforms := make([]Platform, 0, len(r.Platforms))
	for _, p := range r.Platforms {
		p = Platform(strings.ToLower(strings.TrimSpace(string(p))))
		if p != "" && !slices.Contains(platforms, p) {
			platforms = append(platforms, p)
		}
	}
	if len(platforms) == 0 {
		platforms = append(platforms, PlatformWeb)
	}
	r.Platforms = platforms
}

// Validate checks the mode-specific required fields. Standard jobs need a
// prompt or a source reference; deep jobs always need a prompt.
func (r *SubmitRequest) Validate() error {
	if !r.Mode.Valid() {
		return apperrors.InvalidRequest("mode", fmt.Sprintf("unknown mode %q", r.Mode))
	}
	if r.Prompt == "" && r.Source == nil {
		return apperrors.InvalidRequest("prompt", "a prompt or a source reference is required")
	}
	if r.Mode == JobModeDeep && r.Prompt == "" {
		return apperrors.InvalidRequest("prompt", "deep mode requires a prompt")
	}
	if utf8.RuneCountInString(r.Prompt) > MaxPromptLength {
		return apperrors.InvalidRequest("prompt", fmt.Sprintf("prompt exceeds %d characters", MaxPromptLength))
	}
	if len(r.Platforms) == 0 {
		return apperrors.InvalidRequest("platforms", "at least one platform is required")
	}
	for _, p := range r.Platforms {
		if !p.Valid() {
			return apperrors.InvalidRequest("platforms", fmt.Sprintf("unsupported platform %q", p))
		}
	}
	return nil
}

// SubmitResponse is returned when a request is accepted.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// JobListOptions bounds job listings.
type JobListOptions struct {
	Limit  int
	Offset int
}
