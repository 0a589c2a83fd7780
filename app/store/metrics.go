package store

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects store counters. Nil *Metrics is valid and records nothing.
type Metrics struct {
	opens   prometheus.Counter
	repairs prometheus.Counter
	resets  *prometheus.CounterVec
	syncs   *prometheus.CounterVec
	entries prometheus.Gauge
}

// NewMetrics makes and registers store metrics, nil reg means the default registerer
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_opens_total",
			Help:      "Total number of schedule store opens",
		}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_repairs_total",
			Help:      "Total number of corrupted schedule files removed",
		}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_resets_total",
			Help:      "Total number of schedule resets by reason",
		}, []string{"reason"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_syncs_total",
			Help:      "Total number of schedule syncs by status",
		}, []string{"status"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_entries",
			Help:      "Number of entries in the schedule",
		}),
	}

	reg.MustRegister(m.opens, m.repairs, m.resets, m.syncs, m.entries)
	return m
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.opens.Inc()
}

func (m *Metrics) repaired() {
	if m == nil {
		return
	}
	m.repairs.Inc()
}

func (m *Metrics) reset(reason string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(reason).Inc()
}

func (m *Metrics) synced(err error, entries int) {
	if m == nil {
		return
	}
	if err != nil {
		m.syncs.WithLabelValues("error").Inc()
		return
	}
	m.syncs.WithLabelValues("ok").Inc()
	m.entries.Set(float64(entries))
}
