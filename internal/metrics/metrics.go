package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. It satisfies core.Observer and the
// feed relay's observer.
type Metrics struct {
	registry *prometheus.Registry

	postings      *prometheus.CounterVec
	postLatency   *prometheus.HistogramVec
	lockTimeouts  prometheus.Counter
	feedPublished prometheus.Counter
	feedFailures  prometheus.Counter
	feedLag       prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invledger",
			Name:      "postings_total",
			Help:      "Posting operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		postLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "invledger",
			Name:      "posting_duration_seconds",
			Help:      "Posting latency including lock waits.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "invledger",
			Name:      "lock_timeouts_total",
			Help:      "Postings rejected because a level lock could not be acquired in time.",
		}),
		feedPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "invledger",
			Subsystem: "feed",
			Name:      "published_total",
			Help:      "Ledger entries published to the feed.",
		}),
		feedFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "invledger",
			Subsystem: "feed",
			Name:      "failures_total",
			Help:      "Failed feed relay iterations.",
		}),
		feedLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "invledger",
			Subsystem: "feed",
			Name:      "cursor_seq",
			Help:      "Last ledger seq published to the feed.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invledger",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
	}
	m.registry.MustRegister(
		m.postings, m.postLatency, m.lockTimeouts,
		m.feedPublished, m.feedFailures, m.feedLag, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObservePosting(op, outcome string, elapsed time.Duration) {
	m.postings.WithLabelValues(op, outcome).Inc()
	m.postLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if outcome == "lock_timeout" {
		m.lockTimeouts.Inc()
	}
}

func (m *Metrics) ObservePublished(n int, cursor int64) {
	m.feedPublished.Add(float64(n))
	m.feedLag.Set(float64(cursor))
}

func (m *Metrics) ObserveFeedFailure() {
	m.feedFailures.Inc()
}

func (m *Metrics) ObserveRequest(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
