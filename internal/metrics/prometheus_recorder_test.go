package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncTriggerDecision("approved", true)
	pr.IncTriggerDecision("result", false)
	pr.IncTriggerDecision("result", false)
	pr.ObserveSyncDuration(150 * time.Millisecond)
	pr.IncSyncFailure(SyncFailureTimeout)
	pr.AddSpilledBytes(4096)
	pr.AddSpilledBytes(-1)
	pr.ObserveBuildDuration("core", 3*time.Second)
	pr.IncBuildResult("SUCCESS")
	pr.IncBuildRetry("core")
	pr.IncBuildRetryExhausted("core")
	pr.SetQueueDepth(3)

	require.InDelta(t, 2, testutil.ToFloat64(pr.triggerDecisions.WithLabelValues("result", "false")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(pr.triggerDecisions.WithLabelValues("approved", "true")), 0)
	require.InDelta(t, 4096, testutil.ToFloat64(pr.spilledBytes), 0)
	require.InDelta(t, 3, testutil.ToFloat64(pr.queueDepth), 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	require.NotPanics(t, func() {
		pr.IncTriggerDecision("approved", true)
		pr.AddSpilledBytes(10)
		pr.SetQueueDepth(1)
	})
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncBuildResult("FAILURE")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `cascade_build_results_total{result="FAILURE"} 1`))
	require.True(t, strings.Contains(rec.Body.String(), "promhttp_metric_handler_requests_total"))
}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)
