package metrics

import "time"

// Recorder defines observability hooks for build and webhook metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. The
// NoopRecorder allows optional injection.
type Recorder interface {
	ObservePhaseDuration(phase string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome string) // outcome: success|failed
	IncFormatResult(format string, success bool)
	IncWebhookDecision(provider, decision string)
	IncToolCache(hit bool)
	SetQueueDepth(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePhaseDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncBuildOutcome(string)                     {}
func (NoopRecorder) IncFormatResult(string, bool)               {}
func (NoopRecorder) IncWebhookDecision(string, string)          {}
func (NoopRecorder) IncToolCache(bool)                          {}
func (NoopRecorder) SetQueueDepth(int)                          {}
