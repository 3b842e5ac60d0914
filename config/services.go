package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API and the job executor behind it.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeReaper runs the job reaper for recovery and cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, reaper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ExecutorConfig contains job executor configuration.
type ExecutorConfig struct {
	// MaxConcurrentJobs bounds the jobs running at once in this process.
	// Submissions beyond it are accepted and wait as pending.
	MaxConcurrentJobs int `env:"EXECUTOR_MAX_CONCURRENT_JOBS" envDefault:"8"`

	// CollaboratorTimeout bounds a single analyze, generate or build call.
	CollaboratorTimeout time.Duration `env:"EXECUTOR_COLLABORATOR_TIMEOUT" envDefault:"10m"`

	// ProbeTimeout bounds the source reachability check done during submit.
	ProbeTimeout time.Duration `env:"EXECUTOR_PROBE_TIMEOUT" envDefault:"15s"`

	// PhaseTablesFile optionally replaces the built-in phase tables.
	PhaseTablesFile string `env:"PHASE_TABLES_FILE"`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() {
	if e.MaxConcurrentJobs < 1 {
		e.MaxConcurrentJobs = 1
	}
	if e.MaxConcurrentJobs > 256 {
		e.MaxConcurrentJobs = 256
	}
	if e.CollaboratorTimeout < time.Second {
		e.CollaboratorTimeout = time.Second
	}
	if e.ProbeTimeout < time.Second {
		e.ProbeTimeout = time.Second
	}
	e.PhaseTablesFile = strings.TrimSpace(e.PhaseTablesFile)
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is how often the reaper runs cleanup operations.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// InflightMaxAge is how long a non-terminal job may go without a write
	// before it is failed as interrupted.
	InflightMaxAge time.Duration `env:"REAPER_INFLIGHT_MAX_AGE" envDefault:"30m"`

	// Retention is how long terminal jobs and their artifacts are kept.
	Retention time.Duration `env:"REAPER_RETENTION" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.InflightMaxAge < time.Minute {
		r.InflightMaxAge = time.Minute
	}
	if r.Retention < time.Hour {
		r.Retention = time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
