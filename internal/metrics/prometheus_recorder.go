package metrics

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "cascade"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	triggerDecisions *prom.CounterVec
	syncDuration     prom.Histogram
	syncFailures     *prom.CounterVec
	spilledBytes     prom.Counter
	buildDuration    *prom.HistogramVec
	buildResults     *prom.CounterVec
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
	queueDepth       prom.Gauge
}

// NewPrometheusRecorder constructs and registers the collectors on reg. A nil
// registry gets a private one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		triggerDecisions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_decisions_total",
			Help:      "Downstream trigger decisions by deciding rule",
		}, []string{"rule", "triggered"}),
		syncDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "splitlog_sync_duration_seconds",
			Help:      "Time spent waiting for a sync mark to traverse the output stream",
			Buckets:   prom.DefBuckets,
		}),
		syncFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "splitlog_sync_failures_total",
			Help:      "Split-log synchronizations that did not observe their mark",
		}, []string{"reason"}),
		spilledBytes: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "splitlog_spilled_bytes_total",
			Help:      "Unclaimed output bytes written to spill files",
		}),
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Build duration per project",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		}, []string{"project"}),
		buildResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_results_total",
			Help:      "Finished builds by result",
		}, []string{"result"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_retries_total",
			Help:      "Build retries after transient failures",
		}, []string{"project"}),
		retriesExhausted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_retry_exhausted_total",
			Help:      "Builds whose retries were exhausted",
		}, []string{"project"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the build queue",
		}),
	}
	reg.MustRegister(
		pr.triggerDecisions, pr.syncDuration, pr.syncFailures, pr.spilledBytes,
		pr.buildDuration, pr.buildResults, pr.retries, pr.retriesExhausted, pr.queueDepth,
	)
	return pr
}

func (p *PrometheusRecorder) IncTriggerDecision(rule string, triggered bool) {
	if p == nil {
		return
	}
	p.triggerDecisions.WithLabelValues(rule, strconv.FormatBool(triggered)).Inc()
}

func (p *PrometheusRecorder) ObserveSyncDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.syncDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSyncFailure(reason SyncFailure) {
	if p == nil {
		return
	}
	p.syncFailures.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusRecorder) AddSpilledBytes(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.spilledBytes.Add(float64(n))
}

func (p *PrometheusRecorder) ObserveBuildDuration(project string, d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.WithLabelValues(project).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildResult(result string) {
	if p == nil {
		return
	}
	p.buildResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncBuildRetry(project string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(project).Inc()
}

func (p *PrometheusRecorder) IncBuildRetryExhausted(project string) {
	if p == nil {
		return
	}
	p.retriesExhausted.WithLabelValues(project).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}
