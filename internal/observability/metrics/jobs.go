// Package metrics emits job lifecycle metrics to a StatsD sink.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/Johnshah/My/internal/observability/errors"
	"github.com/Johnshah/My/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess     = "success"
	ResultFailed      = "failed"
	ResultInterrupted = "interrupted"
)

// JobMetric captures a finished job for metric emission.
type JobMetric struct {
	Mode     string
	Status   string
	Phase    string // Phase the job was in when it ended
	Result   string
	Code     string // Structured failure code, when failed
	Duration time.Duration
	Err      error
}

// EmitJobAccepted counts a job created by a submission.
func EmitJobAccepted(sink statsd.Sink, mode string) {
	if sink == nil {
		return
	}
	sink.Count("job.accepted", 1, map[string]string{"mode": mode})
}

// EmitJobFinished emits the outcome and run time of a job that reached a
// terminal status.
func EmitJobFinished(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"mode":   in.Mode,
		"status": in.Status,
		"result": in.Result,
	}
	if in.Result != ResultSuccess {
		if in.Phase != "" {
			tags["phase"] = in.Phase
		}
		if in.Code != "" {
			tags["error_code"] = in.Code
		}
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.finished", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitReaped counts jobs failed or deleted by one reaper pass.
func EmitReaped(sink statsd.Sink, action string, count int) {
	if sink == nil || count <= 0 {
		return
	}
	sink.Count("job.reaped", int64(count), map[string]string{"action": action})
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
