package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_gateway"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

// StatsUpdater exposes gauges registered by name on GET /metrics.
// Unknown metric names are ignored so a missing registration never takes
// down a connection goroutine.
type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
}

// NewStatsUpdater creates a new stats updater instance.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{}))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_milliseconds",
		Help:      "Time since the gateway started.",
	}, func() float64 {
		return float64(time.Since(startTime).Milliseconds())
	}))
	su.registry.MustRegister(collectors.NewGoCollector())
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "value",
		Help:        "Gateway counter.",
		ConstLabels: prometheus.Labels{"metric": name},
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) gauge(name string) prometheus.Gauge {
	su.mu.RLock()
	defer su.mu.RUnlock()
	return su.gauges[name]
}

func (su *StatsUpdater) Incr(name string) {
	if g := su.gauge(name); g != nil {
		g.Inc()
	}
}

func (su *StatsUpdater) Decr(name string) {
	if g := su.gauge(name); g != nil {
		g.Dec()
	}
}
