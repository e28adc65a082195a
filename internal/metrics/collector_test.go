package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorRecordsJobs(t *testing.T) {
	c := New()

	c.ObserveJob("content", OutcomeOK, 10*time.Millisecond)
	c.ObserveJob("content", OutcomeOK, 20*time.Millisecond)
	c.ObserveJob("asset", OutcomeCacheHit, time.Millisecond)
	c.IncExtraction("full")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsTotal.WithLabelValues("content", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsTotal.WithLabelValues("asset", OutcomeCacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.extractions.WithLabelValues("full")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveJob("asset", OutcomeOK, time.Second)
		c.ObserveQueueWait("asset", time.Second)
		c.IncExtraction("entry")
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.IncExtraction("entry")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "pad_engine_extractions_total"))
}
