package cloudlock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a [Renewer], [SkewGuard], and [Supervisor].
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LeaseHeld      prometheus.Gauge
	Passes         *prometheus.CounterVec
	ClockSkew      prometheus.Gauge
	ProcessRunning prometheus.Gauge
	ProcessStarts  prometheus.Counter
	ProcessStops   *prometheus.CounterVec
}

// Renewal pass outcomes, as recorded in the "result" label of Metrics.Passes.
const (
	resultAcquired = "acquired"
	resultRenewed  = "renewed"
	resultTakeover = "takeover"
	resultHeld     = "held"
	resultConflict = "conflict"
	resultSkew     = "skew"
	resultError    = "error"
)

// NewMetrics creates the collectors for the given lease label and registers them with reg.
func NewMetrics(reg prometheus.Registerer, label string) *Metrics {
	constLabels := prometheus.Labels{"label": label}

	m := &Metrics{
		LeaseHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "cloudlock_lease_held",
			Help:        "1 if this node believes it holds the lease",
			ConstLabels: constLabels,
		}),
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudlock_renew_passes_total",
			Help:        "Renewal passes by result",
			ConstLabels: constLabels,
		}, []string{"result"}),
		ClockSkew: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "cloudlock_clock_skew_seconds",
			Help:        "Last measured distance between the local clock and the time oracle",
			ConstLabels: constLabels,
		}),
		ProcessRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "cloudlock_process_running",
			Help:        "1 if the supervised process is running on this node",
			ConstLabels: constLabels,
		}),
		ProcessStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "cloudlock_process_starts_total",
			Help:        "Times the supervised process was launched",
			ConstLabels: constLabels,
		}),
		ProcessStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cloudlock_process_stops_total",
			Help:        "Stop requests sent to the supervised process, by mode",
			ConstLabels: constLabels,
		}, []string{"mode"}),
	}

	reg.MustRegister(m.LeaseHeld, m.Passes, m.ClockSkew, m.ProcessRunning, m.ProcessStarts, m.ProcessStops)

	return m
}

func (m *Metrics) pass(result string, held bool) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(result).Inc()
	m.LeaseHeld.Set(boolGauge(held))
}

func (m *Metrics) skew(d time.Duration) {
	if m == nil {
		return
	}
	m.ClockSkew.Set(d.Seconds())
}

func (m *Metrics) running(r bool) {
	if m == nil {
		return
	}
	m.ProcessRunning.Set(boolGauge(r))
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.ProcessStarts.Inc()
}

func (m *Metrics) stopped(mode string) {
	if m == nil {
		return
	}
	m.ProcessStops.WithLabelValues(mode).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
