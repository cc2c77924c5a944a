package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveStep(1, 10*time.Millisecond)
	c.ObserveStep(2, 20*time.Millisecond)
	c.IncStepError(StageSignal)
	c.IncSignalUnreachable()
	c.SetBindings(3, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.StepsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.CurrentStep))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StepErrors.WithLabelValues(StageSignal)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.StepErrors.WithLabelValues(StageTraffic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SignalUnreachable))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.BoundDetectors))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.BoundControlUnits))
	assert.Equal(t, 1, testutil.CollectAndCount(c.StepDuration))
}

func TestCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	second.ObserveStep(5, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.StepsTotal))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveStep(1, time.Second)
		c.IncStepError(StageListener)
		c.IncSignalUnreachable()
		c.SetBindings(1, 1)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.ObserveStep(7, time.Millisecond)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cosim_current_step 7")
	assert.Contains(t, string(body), "cosim_steps_total 1")
}
