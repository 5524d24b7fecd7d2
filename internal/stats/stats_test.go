package stats

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.registry, "expected registry to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/metrics"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /metrics to be set")
	assert.Equal(t, "GET /metrics", pattern, "expected handler to be registered for GET method on /metrics")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric("ActiveConnections")
	su.RegisterMetric("ActiveConnections") // registering twice is a no-op

	su.Incr("ActiveConnections")
	su.Incr("ActiveConnections")
	su.Decr("ActiveConnections")
	assert.Equal(t, float64(1), testutil.ToFloat64(su.gauge("ActiveConnections")))

	assert.NotPanics(t, func() { su.Incr("Unregistered") }, "expected unknown metric to be ignored")
}

func TestStatsUpdater_MetricsEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric("RelayedMessages")
	su.Incr("RelayedMessages")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `chat_gateway_value{metric="RelayedMessages"} 1`)
	assert.Contains(t, rr.Body.String(), "chat_gateway_uptime_milliseconds")
}
