package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncBuildOutcome("success")
	pr.IncBuildOutcome("success")
	pr.IncBuildOutcome("failed")
	pr.IncFormatResult("pdf", false)
	pr.IncWebhookDecision("github", "trigger_build")
	pr.IncToolCache(true)
	pr.SetQueueDepth(3)
	pr.ObservePhaseDuration("vcs_checkout", 2*time.Second)
	pr.ObserveBuildDuration(10 * time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(pr.buildOutcome.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pr.buildOutcome.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pr.formatResults.WithLabelValues("pdf", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pr.webhookDecisions.WithLabelValues("github", "trigger_build")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pr.toolCache.WithLabelValues("hit")))
	assert.Equal(t, float64(3), testutil.ToFloat64(pr.queueDepth))
}

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	require.NotPanics(t, func() {
		r.ObserveBuildDuration(time.Second)
		r.IncBuildOutcome("success")
		r.IncFormatResult("html", true)
		r.SetQueueDepth(0)
	})
}
