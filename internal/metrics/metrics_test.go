package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCounters(t *testing.T) {
	c := NewCollector()

	c.RunStarted("full")
	c.RunStarted("inference")
	c.RunFinished("full", false)
	c.RunFinished("inference", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsStarted.WithLabelValues("full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("full", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("inference", "failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runsInFlight))
}

func TestRunsInFlight(t *testing.T) {
	c := NewCollector()

	c.RunStarted("training")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsInFlight))
	c.RunFinished("training", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runsInFlight))
}

func TestStageObserved(t *testing.T) {
	c := NewCollector()

	c.StageObserved("fetch", 200*time.Millisecond, true)
	c.StageObserved("fetch", 100*time.Millisecond, true)
	c.StageObserved("forecast", time.Minute, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.stageRuns.WithLabelValues("fetch", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageRuns.WithLabelValues("forecast", "failure")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Each collector carries its own registry, so creating several in one
	// process must not panic or cross-contaminate.
	a := NewCollector()
	b := NewCollector()

	a.RunStarted("full")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.runsStarted.WithLabelValues("full")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runsStarted.WithLabelValues("full")))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector()
	c.RunStarted("full")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pipeline_runs_started_total")
}
