package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := NewMetrics("kpi", prometheus.NewRegistry())

	m.RecordRequest(http.MethodGet, "/metrics", http.StatusOK, 10*time.Millisecond)
	m.RecordComputation("ok", 5*time.Millisecond)
	m.RecordQuery("postgres", nil, time.Millisecond)
	m.RecordQuery("postgres", errors.New("boom"), time.Millisecond)
	m.RecordRateLimitHit("redis")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "/metrics", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("redis")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.DataSourceDuration))
}

func TestHandlerServesOwnRegistry(t *testing.T) {
	m := NewMetrics("kpi", prometheus.NewRegistry())
	m.RecordComputation("invalid_range", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kpi_kpi_computations_total{outcome="invalid_range"} 1`)
}
