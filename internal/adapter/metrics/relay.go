package metrics

import "github.com/prometheus/client_golang/prometheus"

// Anomaly kinds counted by RelayMetrics.
const (
	AnomalyUnknownConnection  = "unknown_connection"
	AnomalyDuplicateAdmission = "duplicate_admission"
	AnomalyRoleConflict       = "role_conflict"
	AnomalyWorkerPanic        = "worker_panic"
)

// RelayMetrics holds Prometheus metrics for the namespace workers.
// All methods are safe to call on a nil receiver.
type RelayMetrics struct {
	Flushes          *prometheus.CounterVec
	IndividualEvents *prometheus.CounterVec
	AutoStops        *prometheus.CounterVec
	Anomalies        *prometheus.CounterVec
	Controllers      *prometheus.GaugeVec
	Screens          *prometheus.GaugeVec
	Running          *prometheus.GaugeVec
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "flushes_total",
			Help:      "Total number of batched controller snapshots published to screens.",
		}, []string{"namespace"}),
		IndividualEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "individual_events_total",
			Help:      "Total number of per-connection controller updates published in individual mode.",
		}, []string{"namespace"}),
		AutoStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "idle_auto_stops_total",
			Help:      "Total number of schedulers stopped by the idle timeout.",
		}, []string{"namespace"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "anomalies_total",
			Help:      "Total number of degraded client anomalies, by kind.",
		}, []string{"namespace", "kind"}),
		Controllers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "controllers",
			Help:      "Number of live controllers.",
		}, []string{"namespace"}),
		Screens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "screens",
			Help:      "Number of live screens.",
		}, []string{"namespace"}),
		Running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "scheduler_running",
			Help:      "1 if the namespace scheduler is running, 0 if stopped.",
		}, []string{"namespace"}),
	}

	reg.MustRegister(m.Flushes, m.IndividualEvents, m.AutoStops, m.Anomalies, m.Controllers, m.Screens, m.Running)
	return m
}

func (m *RelayMetrics) Flushed(ns string) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(ns).Inc()
}

func (m *RelayMetrics) IndividualEvent(ns string) {
	if m == nil {
		return
	}
	m.IndividualEvents.WithLabelValues(ns).Inc()
}

func (m *RelayMetrics) AutoStopped(ns string) {
	if m == nil {
		return
	}
	m.AutoStops.WithLabelValues(ns).Inc()
}

func (m *RelayMetrics) Anomaly(ns, kind string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(ns, kind).Inc()
}

// Population sets the live controller and screen gauges.
func (m *RelayMetrics) Population(ns string, controllers, screens int) {
	if m == nil {
		return
	}
	m.Controllers.WithLabelValues(ns).Set(float64(controllers))
	m.Screens.WithLabelValues(ns).Set(float64(screens))
}

func (m *RelayMetrics) SchedulerRunning(ns string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.Running.WithLabelValues(ns).Set(v)
}
