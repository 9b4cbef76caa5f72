package salesetl

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "salesetl"

// Metrics records run outcomes as Prometheus metrics.
type Metrics struct {
	runs        *prometheus.CounterVec
	records     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// NewMetrics builds the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Runs by job, status and failed phase.",
		}, []string{"job", "status", "phase"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_total",
			Help:      "Records by job and stage.",
		}, []string{"job", "stage"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_records_total",
			Help:      "Dropped records by job and the required field found null.",
		}, []string{"job", "field"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.runs, m.records, m.dropped, m.duration, m.lastSuccess)
	}

	return m
}

func (m *Metrics) observe(r *Result) {
	if m == nil {
		return
	}

	m.runs.WithLabelValues(r.Job, string(r.Status), string(r.Phase)).Inc()
	m.records.WithLabelValues(r.Job, "extracted").Add(float64(r.Extracted))
	m.records.WithLabelValues(r.Job, "loaded").Add(float64(r.Loaded))
	m.records.WithLabelValues(r.Job, "dropped").Add(float64(r.Dropped))
	for field, n := range r.DropReasons {
		m.dropped.WithLabelValues(r.Job, field).Add(float64(n))
	}
	m.duration.Observe(r.Duration().Seconds())

	if r.Succeeded() {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}
