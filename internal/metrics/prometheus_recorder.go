package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry         *prom.Registry
	phaseDuration    *prom.HistogramVec
	buildDuration    prom.Histogram
	buildOutcome     *prom.CounterVec
	formatResults    *prom.CounterVec
	webhookDecisions *prom.CounterVec
	toolCache        *prom.CounterVec
	queueDepth       prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.phaseDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "docharbor",
		Name:      "phase_duration_seconds",
		Help:      "Duration of individual build phases",
		Buckets:   prom.DefBuckets,
	}, []string{"phase"})
	pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "docharbor",
		Name:      "build_duration_seconds",
		Help:      "Total build duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2700},
	})
	pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "docharbor",
		Name:      "build_outcomes_total",
		Help:      "Build outcomes by final status",
	}, []string{"outcome"})
	pr.formatResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "docharbor",
		Name:      "format_results_total",
		Help:      "Per-format builder results",
	}, []string{"format", "result"})
	pr.webhookDecisions = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "docharbor",
		Name:      "webhook_decisions_total",
		Help:      "Webhook dispatch decisions by provider",
	}, []string{"provider", "decision"})
	pr.toolCache = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "docharbor",
		Name:      "tool_cache_total",
		Help:      "Build-tool cache lookups by outcome",
	}, []string{"result"})
	pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
		Namespace: "docharbor",
		Name:      "build_queue_depth",
		Help:      "Number of build jobs waiting in the queue",
	})

	reg.MustRegister(
		pr.phaseDuration,
		pr.buildDuration,
		pr.buildOutcome,
		pr.formatResults,
		pr.webhookDecisions,
		pr.toolCache,
		pr.queueDepth,
	)
	return pr
}

// Handler returns the /metrics exposition handler for this recorder's registry.
func (pr *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(pr.registry, promhttp.HandlerOpts{})
}

func (pr *PrometheusRecorder) ObservePhaseDuration(phase string, d time.Duration) {
	pr.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (pr *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	pr.buildDuration.Observe(d.Seconds())
}

func (pr *PrometheusRecorder) IncBuildOutcome(outcome string) {
	pr.buildOutcome.WithLabelValues(outcome).Inc()
}

func (pr *PrometheusRecorder) IncFormatResult(format string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	pr.formatResults.WithLabelValues(format, result).Inc()
}

func (pr *PrometheusRecorder) IncWebhookDecision(provider, decision string) {
	pr.webhookDecisions.WithLabelValues(provider, decision).Inc()
}

func (pr *PrometheusRecorder) IncToolCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pr.toolCache.WithLabelValues(result).Inc()
}

func (pr *PrometheusRecorder) SetQueueDepth(n int) {
	pr.queueDepth.Set(float64(n))
}
