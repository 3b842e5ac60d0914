package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Johnshah/My/internal/errors"
)

type recordedMetric struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

type recordingSink struct {
	metrics []recordedMetric
}

func (s *recordingSink) Count(name string, value int64, tags map[string]string) {
	s.metrics = append(s.metrics, recordedMetric{"count", name, float64(value), tags})
}

func (s *recordingSink) Gauge(name string, value float64, tags map[string]string) {
	s.metrics = append(s.metrics, recordedMetric{"gauge", name, value, tags})
}

func (s *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	s.metrics = append(s.metrics, recordedMetric{"timing", name, float64(value.Milliseconds()), tags})
}

func TestEmitJobFinished_Success(t *testing.T) {
	sink := &recordingSink{}
	EmitJobFinished(sink, JobMetric{
		Mode:     "standard",
		Status:   "ready",
		Phase:    "packaging",
		Result:   ResultSuccess,
		Duration: 2 * time.Second,
	})

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "job.finished", sink.metrics[0].name)
	assert.Equal(t, map[string]string{"mode": "standard", "status": "ready", "result": "success"}, sink.metrics[0].tags)
	assert.Equal(t, "job.duration", sink.metrics[1].name)
	assert.InDelta(t, 2000, sink.metrics[1].value, 0.1)
}

func TestEmitJobFinished_FailureTags(t *testing.T) {
	sink := &recordingSink{}
	EmitJobFinished(sink, JobMetric{
		Mode:   "deep",
		Status: "failed",
		Phase:  "generating_code",
		Result: ResultFailed,
		Code:   "generation_failed",
		Err:    apperrors.GenerationFailed("model refused"),
	})

	require.Len(t, sink.metrics, 1, "no timing without a duration")
	tags := sink.metrics[0].tags
	assert.Equal(t, "generating_code", tags["phase"])
	assert.Equal(t, "generation_failed", tags["error_code"])
	assert.Equal(t, "generation_failed", tags["error_class"])
}

func TestEmit_NilSinkAndEmptyCounts(t *testing.T) {
	EmitJobAccepted(nil, "standard")
	EmitJobFinished(nil, JobMetric{Err: errors.New("ignored")})
	EmitReaped(nil, "failed", 3)

	sink := &recordingSink{}
	EmitReaped(sink, "deleted", 0)
	assert.Empty(t, sink.metrics)

	EmitReaped(sink, "deleted", 4)
	EmitJobAccepted(sink, "deep")
	require.Len(t, sink.metrics, 2)
	assert.InDelta(t, 4, sink.metrics[0].value, 0)
	assert.Equal(t, map[string]string{"mode": "deep"}, sink.metrics[1].tags)
}
