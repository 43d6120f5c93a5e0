package monitoring

import "time"

// PipelineRecorder publishes protection pipeline measurements to Prometheus.
// It satisfies protection.Recorder.
type PipelineRecorder struct{}

// NewPipelineRecorder returns a recorder backed by the package metrics
func NewPipelineRecorder() *PipelineRecorder {
	return &PipelineRecorder{}
}

// RecordSession counts a finished session and observes its duration
func (PipelineRecorder) RecordSession(direction, status string, duration time.Duration) {
	PipelineSessionsTotal.WithLabelValues(direction, status).Inc()
	PipelineSessionDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordBlocks counts transformed blocks
func (PipelineRecorder) RecordBlocks(direction string, blocks int) {
	PipelineBlocksTotal.WithLabelValues(direction).Add(float64(blocks))
}

// RecordBytes counts emitted content bytes
func (PipelineRecorder) RecordBytes(direction string, n int64) {
	PipelineBytesTotal.WithLabelValues(direction).Add(float64(n))
}
