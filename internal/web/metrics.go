package web

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slotfinder/internal/availability"
)

// metrics holds the Prometheus collectors for one Server. Each Server owns
// its registry so several can coexist in a process.
type metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	findDuration prometheus.Histogram
	slotsFound   *prometheus.GaugeVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotfinder",
			Name:      "slot_requests_total",
			Help:      "Slot lookups served, by result status.",
		}, []string{"status"}),
		findDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slotfinder",
			Name:      "find_duration_seconds",
			Help:      "Time spent fetching busy time and computing free slots.",
			Buckets:   prometheus.DefBuckets,
		}),
		slotsFound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "slotfinder",
			Name:      "free_slots",
			Help:      "Free slots found by the last successful lookup, per source.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.findDuration,
		m.slotsFound,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) observeRequest(st availability.Status) {
	m.requests.WithLabelValues(string(st)).Inc()
}

// observeFind records a lookup that reached the Finder.
func (m *metrics) observeFind(res availability.Result, d time.Duration) {
	m.observeRequest(res.Status)
	m.findDuration.Observe(d.Seconds())
	if res.Status == availability.StatusOK || res.Status == availability.StatusNoAvailability {
		m.slotsFound.WithLabelValues(res.Source).Set(float64(len(res.Slots)))
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
