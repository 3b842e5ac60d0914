package data

import "errors"

// Shared sentinel errors for data-layer stores.
var (
	// ErrArtifactKeyInvalid is returned for keys that escape the artifact root.
	ErrArtifactKeyInvalid = errors.New("artifact key is invalid")
	// ErrJobIDRequired is returned when a job id is missing.
	ErrJobIDRequired = errors.New("job_id is required")
)
