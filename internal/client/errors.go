package client

import (
	"fmt"

	"github.com/Johnshah/My/internal/domain/model"
)

// ConnectionError reports that the progress channel could not be kept open
// within the retry budget. It says nothing about the job itself, which may
// still be running.
type ConnectionError struct {
	Attempts int
	Last     error
}

func (e *ConnectionError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("progress connection lost after %d reconnect attempts", e.Attempts)
	}
	return fmt.Sprintf("progress connection lost after %d reconnect attempts: %v", e.Attempts, e.Last)
}

func (e *ConnectionError) Unwrap() error { return e.Last }

// JobFailedError carries the structured cause of a failed job.
type JobFailedError struct {
	JobID string
	Cause model.JobError
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s: %s", e.JobID, e.Cause.Code, e.Cause.Detail)
}

func jobFailed(job *model.Job) *JobFailedError {
	err := &JobFailedError{JobID: job.ID}
	if job.Error != nil {
		err.Cause = *job.Error
	}
	return err
}
